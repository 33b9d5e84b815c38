// Package snapshot 把面板状态保存到本地，下次启动时在首次 REST 加载前先显示上次的数据
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/betbot/sentinel/internal/metrics"
	"github.com/betbot/sentinel/internal/state"
	"github.com/betbot/sentinel/pkg/logger"
	"github.com/betbot/sentinel/pkg/persistence"
)

const (
	storePrefix = "dashboard"
	storeTag    = "snapshot"

	// DefaultInterval 两次保存之间的最短间隔
	DefaultInterval = 5 * time.Second
)

// Keeper 监听状态变化并定期保存快照
type Keeper struct {
	store    persistence.Store
	state    *state.Store
	interval time.Duration
}

// NewKeeper 创建 Keeper，id 区分不同的面板实例
func NewKeeper(svc persistence.Service, id string, st *state.Store, interval time.Duration) *Keeper {
	if id == "" {
		id = "default"
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Keeper{
		store:    svc.NewStore(storePrefix, id, storeTag),
		state:    st,
		interval: interval,
	}
}

// Restore 加载上次保存的快照，没有快照时返回 false
func (k *Keeper) Restore() (bool, error) {
	var snap state.Snapshot
	if err := k.store.Load(&snap); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return false, nil
		}
		return false, err
	}
	if !k.state.Restore(snap) {
		return false, nil
	}
	metrics.SnapshotLoads.Add(1)
	logger.Infof("[snapshot] 已恢复快照: alerts=%d positions=%d trades=%d (保存于 %s)",
		len(snap.Alerts), len(snap.Positions), len(snap.Trades), snap.UpdatedAt.Format(time.DateTime))
	return true, nil
}

// Save 立即保存当前状态
// 连接状态和错误只在运行期有意义，不写入快照
func (k *Keeper) Save() error {
	snap := k.state.Snapshot()
	snap.Connected = false
	snap.LastError = ""
	snap.Restored = false
	if err := k.store.Save(&snap); err != nil {
		return err
	}
	metrics.SnapshotSaves.Add(1)
	return nil
}

// Run 在状态变化后保存快照，两次保存至少间隔 interval；ctx 结束时再保存一次
func (k *Keeper) Run(ctx context.Context) {
	changes := k.state.Changes()
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			if changes.Drain() > 0 || dirty {
				k.saveAndLog()
			}
			return
		case <-changes.C():
			dirty = true
		case <-ticker.C:
			if dirty {
				k.saveAndLog()
				dirty = false
			}
		}
	}
}

func (k *Keeper) saveAndLog() {
	if err := k.Save(); err != nil {
		logger.Warnf("[snapshot] 保存快照失败: %v", err)
		return
	}
	logger.Debug("[snapshot] 快照已保存")
}
