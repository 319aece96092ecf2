package cache

import "fmt"

func RateLimitKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:%s", clientIP)
}

func ScanLockKey(jobID int64) string {
	return fmt.Sprintf("scan:lock:%d", jobID)
}

// ScanLockAllKey guards operations that touch every job, such as a purge.
const ScanLockAllKey = "scan:lock:all"
