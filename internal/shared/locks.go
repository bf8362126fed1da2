package shared

import "fmt"

// DocumentLockKey builds the redis key guarding one booking render across workers.
func DocumentLockKey(bookingID string) string {
	return fmt.Sprintf("document:%s:lock", bookingID)
}
