package chat

import (
	"sort"
	"sync"
)

// Registry tracks which connections are members of which channels. A
// channel exists only while it has at least one member. A dropped
// connection can never join again.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	joined   map[*Client]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[*Client]struct{}),
		joined:   make(map[*Client]map[string]struct{}),
	}
}

// Join adds c to channel. It returns false if c was already a member or
// has been dropped.
func (r *Registry) Join(c *Client, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.dropped {
		return false
	}

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		r.channels[channel] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}

	subs, ok := r.joined[c]
	if !ok {
		subs = make(map[string]struct{})
		r.joined[c] = subs
	}
	subs[channel] = struct{}{}
	return true
}

// Leave removes c from channel. It returns false if c was not a member.
func (r *Registry) Leave(c *Client, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(c, channel)
}

// Drop removes c from every channel and refuses any later Join for it.
func (r *Registry) Drop(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.dropped = true
	var left []string
	for channel := range r.joined[c] {
		r.leave(c, channel)
		left = append(left, channel)
	}
	sort.Strings(left)
	return left
}

func (r *Registry) leave(c *Client, channel string) bool {
	members, ok := r.channels[channel]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.channels, channel)
	}

	if subs, ok := r.joined[c]; ok {
		delete(subs, channel)
		if len(subs) == 0 {
			delete(r.joined, c)
		}
	}
	return true
}

// Members returns a snapshot of the connections in channel.
func (r *Registry) Members(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.channels[channel]))
	for c := range r.channels[channel] {
		members = append(members, c)
	}
	return members
}

// CountExcept counts the members of channel other than exclude.
func (r *Registry) CountExcept(channel string, exclude *Client) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.channels[channel])
	if _, ok := r.channels[channel][exclude]; ok {
		n--
	}
	return n
}

func (r *Registry) IsMember(c *Client, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[channel][c]
	return ok
}

// Channels lists the channels c belongs to, sorted.
func (r *Registry) Channels(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[c]))
	for channel := range r.joined[c] {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// Len is the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
