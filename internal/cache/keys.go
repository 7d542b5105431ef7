package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs:item:%s", jobID)
}

func JobListKey(ownerID string) string {
	return fmt.Sprintf("jobs:list:%s", ownerID)
}

func ObjectHeadKey(storageKey string) string {
	return fmt.Sprintf("s3:head:%s", storageKey)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
