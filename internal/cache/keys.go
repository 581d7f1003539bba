package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(tokenPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", tokenPrefix)
}

func AnalysisLockKey(itemID uuid.UUID) string {
	return fmt.Sprintf("analysis:lock:%s", itemID)
}
