// Package cleanup runs the daily retention sweep over the transfer ledger,
// security log, abandoned carts and orphaned transferred products.
package cleanup

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/cartbridge/cartbridge/app/repository"
)

const (
	sweepInterval = 24 * time.Hour

	ledgerRetention        = 90 * 24 * time.Hour
	securityLogRetention   = 30 * 24 * time.Hour
	securityLogMaxRows     = 1000
	orphanRetention        = 7 * 24 * time.Hour
	abandonedCartRetention = 30 * 24 * time.Hour
)

// Manager schedules the retention sweep.
type Manager struct {
	repos *repository.Repositories

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewManager creates a cleanup manager over the given repositories.
func NewManager(repos *repository.Repositories) *Manager {
	return &Manager{repos: repos}
}

// Start launches the sweep loop. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop()
	log.Info("[Cleanup] manager started")
}

// Stop terminates the sweep loop and waits for a running sweep to finish.
// Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[Cleanup] manager stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	// run once at startup, then daily
	m.RunSweep()
	for {
		select {
		case <-ticker.C:
			m.RunSweep()
		case <-m.stopCh:
			return
		}
	}
}

// RunSweep executes one retention pass. Each step is independent; a failing
// step is logged and does not stop the others.
func (m *Manager) RunSweep() {
	now := time.Now()

	if removed, err := m.repos.Transfer.DeleteOlderThan(now.Add(-ledgerRetention)); err != nil {
		log.Errorf("[Cleanup] ledger sweep failed: %v", err)
	} else if removed > 0 {
		log.Infof("[Cleanup] removed %d expired ledger rows", removed)
	}

	if removed, err := m.repos.SecurityLog.Prune(now.Add(-securityLogRetention), securityLogMaxRows); err != nil {
		log.Errorf("[Cleanup] security log sweep failed: %v", err)
	} else if removed > 0 {
		log.Infof("[Cleanup] removed %d security log rows", removed)
	}

	if removed, err := m.repos.Product.DeleteOrphanedTransferred(now.Add(-orphanRetention)); err != nil {
		log.Errorf("[Cleanup] orphaned product sweep failed: %v", err)
	} else if removed > 0 {
		log.Infof("[Cleanup] removed %d orphaned transferred products", removed)
	}

	if removed, err := m.repos.Cart.DeleteAbandoned(now.Add(-abandonedCartRetention)); err != nil {
		log.Errorf("[Cleanup] abandoned cart sweep failed: %v", err)
	} else if removed > 0 {
		log.Infof("[Cleanup] removed %d abandoned carts", removed)
	}
}
