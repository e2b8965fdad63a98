package engine

import (
	"context"
	"time"

	"go-press-sync/internal/logx"
)

// Run 按站点的 poll_interval 周期性执行全量同步，启动时立即执行一次；
// 开启定时备份时按 backup.frequency 生成快照并落盘。ctx 取消后返回。
// 同一时刻只有一轮同步或一次备份在执行，上一轮未结束时到期的 tick 会被合并。
func (e *Engine) Run(ctx context.Context, scope string) error {
	conn, err := e.cfg.Connection(scope)
	if err != nil {
		return err
	}
	interval := conn.PollInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	syncTick := time.NewTicker(interval)
	defer syncTick.Stop()

	var backupC <-chan time.Time
	if conn.Backup.Enabled {
		period, err := e.period(conn.Backup)
		if err != nil {
			return err
		}
		bt := time.NewTicker(period)
		defer bt.Stop()
		backupC = bt.C
		logx.Infof("定时备份已开启：每 %s 一次，目录 %s", period, conn.Backup.Dir)
	}

	logx.Infof("开始轮询：scope=%s 间隔=%s", conn.Name, interval)
	e.poll(ctx, scope)
	for {
		select {
		case <-ctx.Done():
			logx.Infof("轮询已停止：scope=%s", conn.Name)
			return nil
		case <-syncTick.C:
			e.poll(ctx, scope)
		case <-backupC:
			e.scheduledBackup(ctx, scope)
		}
	}
}

func (e *Engine) poll(ctx context.Context, scope string) {
	if ctx.Err() != nil {
		return
	}
	rep, err := e.TriggerSync(ctx, scope)
	if err != nil {
		logx.Warnf("跳过本轮同步：%v", err)
		return
	}
	for t, reason := range rep.Aborted {
		logx.Warnf("本轮同步中止：%s %s", t, reason)
	}
}

func (e *Engine) scheduledBackup(ctx context.Context, scope string) {
	if ctx.Err() != nil {
		return
	}
	snap, err := e.CreateBackup(ctx, scope)
	if err != nil {
		logx.Errorf("定时备份失败：%v", err)
		return
	}
	path, err := e.SaveBackup(snap, "")
	if err != nil {
		logx.Errorf("写入备份失败：%v", err)
		return
	}
	logx.Infof("定时备份完成：%s partial=%v", path, snap.Partial)
}
