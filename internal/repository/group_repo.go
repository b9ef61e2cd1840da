package repository

import (
	"sort"
)

// GroupRepositoryImpl maps group keys to member connection ids.
// A group with zero members is deleted, never kept empty.
// Like the session registry it is not safe for concurrent use.
type GroupRepositoryImpl struct {
	groups map[string]map[string]struct{}
}

// NewGroupRepository creates an empty group directory
func NewGroupRepository() *GroupRepositoryImpl {
	return &GroupRepositoryImpl{
		groups: make(map[string]map[string]struct{}),
	}
}

// AddMember adds id to the group, creating the group if absent
func (r *GroupRepositoryImpl) AddMember(key, id string) {
	members, ok := r.groups[key]
	if !ok {
		members = make(map[string]struct{})
		r.groups[key] = members
	}
	members[id] = struct{}{}
}

// RemoveMember removes id from the group and deletes the group once it is
// empty. It reports whether id was a member.
func (r *GroupRepositoryImpl) RemoveMember(key, id string) bool {
	members, ok := r.groups[key]
	if !ok {
		return false
	}
	if _, ok := members[id]; !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.groups, key)
	}
	return true
}

// MembersOf returns the member ids of a group, sorted. Unknown groups have
// no members.
func (r *GroupRepositoryImpl) MembersOf(key string) []string {
	members := r.groups[key]
	result := make([]string, 0, len(members))
	for id := range members {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// IsMember reports whether id belongs to the group
func (r *GroupRepositoryImpl) IsMember(key, id string) bool {
	_, ok := r.groups[key][id]
	return ok
}

// Exists reports whether the group has at least one member
func (r *GroupRepositoryImpl) Exists(key string) bool {
	_, ok := r.groups[key]
	return ok
}

// Keys returns every group key, sorted
func (r *GroupRepositoryImpl) Keys() []string {
	keys := make([]string, 0, len(r.groups))
	for k := range r.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of groups
func (r *GroupRepositoryImpl) Len() int {
	return len(r.groups)
}
