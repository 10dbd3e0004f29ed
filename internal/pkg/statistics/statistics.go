package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/cartbridge/cartbridge/app/models"
	"github.com/cartbridge/cartbridge/internal/pkg/cache"
	"github.com/cartbridge/cartbridge/internal/pkg/database"
)

const (
	CacheKeyTransfersTotal   = "statistics:transfers:total"
	CacheKeyTransfersSuccess = "statistics:transfers:successful"
	CacheKeyTransfersFailed  = "statistics:transfers:failed"
	CacheKeyTransfersPending = "statistics:transfers:pending"
	CacheKeyRemoteOrders     = "statistics:remote_orders:count"
	CacheKeyRemoteRevenue    = "statistics:remote_orders:revenue"
	CacheExpiration          = 30 * time.Minute
)

// StatisticsData aggregates transfer and remote-order figures.
type StatisticsData struct {
	TotalTransfers      int     `json:"total_transfers"`
	SuccessfulTransfers int     `json:"successful_transfers"`
	FailedTransfers     int     `json:"failed_transfers"`
	PendingTransfers    int     `json:"pending_transfers"`
	RemoteOrders        int     `json:"remote_orders"`
	RemoteRevenue       float64 `json:"remote_revenue"`
}

// Cache refresh gating
var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the ledger aggregates are due a refresh
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached aggregates when they are stale
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Error updating statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next read to refresh
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes the ledger aggregates and stores them
func UpdateStatisticsCache() error {
	db := database.GetDB()

	counts := map[string]string{
		CacheKeyTransfersTotal:   "",
		CacheKeyTransfersSuccess: models.TransferStatusCompleted,
		CacheKeyTransfersFailed:  models.TransferStatusFailed,
		CacheKeyTransfersPending: models.TransferStatusInitiated,
	}

	for key, status := range counts {
		query := db.Model(&models.Transfer{})
		if status != "" {
			query = query.Where("status = ?", status)
		}
		var count int64
		if err := query.Count(&count).Error; err != nil {
			log.Printf("Error counting transfers for %s: %v", key, err)
			return err
		}
		if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
			log.Printf("Error caching %s: %v", key, err)
			return err
		}
	}

	return nil
}

// RecordRemoteOrder adds one completed remote order to the running counters.
// Called by the order-completed notification handler.
func RecordRemoteOrder(total float64) {
	if _, err := cache.Incr(CacheKeyRemoteOrders, 0); err != nil {
		log.Printf("Error counting remote order: %v", err)
	}
	if total > 0 {
		if _, err := cache.IncrByFloat(CacheKeyRemoteRevenue, total); err != nil {
			log.Printf("Error recording remote revenue: %v", err)
		}
	}
}

func getCachedInt(key string) int {
	val, err := cache.Get(key)
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return int(count)
}

func getCachedFloat(key string) float64 {
	val, err := cache.Get(key)
	if err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0
	}
	return f
}

// GetStatisticsData returns all statistics, refreshing the cache if stale
func GetStatisticsData() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TotalTransfers:      getCachedInt(CacheKeyTransfersTotal),
		SuccessfulTransfers: getCachedInt(CacheKeyTransfersSuccess),
		FailedTransfers:     getCachedInt(CacheKeyTransfersFailed),
		PendingTransfers:    getCachedInt(CacheKeyTransfersPending),
		RemoteOrders:        getCachedInt(CacheKeyRemoteOrders),
		RemoteRevenue:       getCachedFloat(CacheKeyRemoteRevenue),
	}
}
