package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TriviaCategoriesKey returns the cache key for the provider's category list
func (r *CacheKeyStruct) TriviaCategoriesKey() string {
	return "trivia:categories"
}

// UserQuizEventsChannel returns the Redis PubSub channel carrying a user's session events
func (r *CacheKeyStruct) UserQuizEventsChannel(userID string) string {
	return fmt.Sprintf("user:%s:quiz_events", userID)
}

var CacheKey = NewCacheKeyStruct()
