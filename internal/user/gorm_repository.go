package user

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type userRow struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null;index"`
	Email     string    `gorm:"not null;uniqueIndex"`
	Password  string    `gorm:"not null"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) toUser() *User {
	return &User{ID: r.ID, Name: r.Name, Email: r.Email, Password: r.Password, Role: r.Role, CreatedAt: r.CreatedAt}
}

// GormRepository stores users in SQLite through gorm.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&userRow{})
}

func (r *GormRepository) CreateUser(ctx context.Context, u *User) (*User, error) {
	row := userRow{ID: u.ID, Name: u.Name, Email: u.Email, Password: u.Password, Role: u.Role, CreatedAt: u.CreatedAt}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("email = ?", u.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEmailTaken
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "insert user")
	}
	return u, nil
}

func (r *GormRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *GormRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormRepository) first(ctx context.Context, cond string, arg string) (*User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "select user")
	}
	return row.toUser(), nil
}

func (r *GormRepository) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	var rows []userRow
	like := "%" + query + "%"
	err := r.db.WithContext(ctx).
		Where("name LIKE ? OR email LIKE ?", like, like).
		Order("name").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "search users")
	}

	users := make([]User, 0, len(rows))
	for _, row := range rows {
		u := row.toUser()
		u.Password = ""
		users = append(users, *u)
	}
	return users, nil
}

func (r *GormRepository) Names(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var rows []userRow
	if err := r.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select names")
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
