// 命令行入口：
// - 加载 .env 与 settings.yaml，初始化日志、数据库与同步引擎
// - sync/stats/backup/test-connection 为一次性命令
// - serve 启动 HTTP 接口（可同时轮询），poll 只做周期同步与定时备份
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-press-sync/internal/api"
	"go-press-sync/internal/config"
	"go-press-sync/internal/engine"
	"go-press-sync/internal/errs"
	"go-press-sync/internal/logx"
	"go-press-sync/internal/model"
	"go-press-sync/internal/store"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err != nil {
		logx.Errorf("%v", err)
		for _, h := range errs.Hints(err) {
			logx.Infof("提示：%s", h)
		}
		os.Exit(1)
	}
}

// app 持有各子命令共享的运行时对象。
type app struct {
	configPath string
	envPath    string
	scope      string

	cfg *config.Config
	db  *store.SQLite
	eng *engine.Engine
}

func (a *app) open() error {
	if err := config.LoadEnvFile(a.envPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)
	db, err := store.OpenSQLite(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	eng, err := engine.New(cfg, db, nil)
	if err != nil {
		_ = db.Close()
		return err
	}
	a.cfg, a.db, a.eng = cfg, db, eng
	logx.Infof("已加载配置：站点=%s 数据库=%s", cfg.Site, cfg.Database.DSN)
	return nil
}

func (a *app) close() {
	if a.eng != nil {
		a.eng.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logx.Warnf("关闭数据库失败：%v", err)
		}
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "press-sync",
		Short:         "Bidirectional content sync between the local store and a WordPress-style REST CMS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "settings.yaml", "path to settings.yaml")
	root.PersistentFlags().StringVar(&a.envPath, "env", ".env", "optional .env file with PRESS_SYNC_* credentials")
	root.PersistentFlags().StringVar(&a.scope, "scope", "", "site scope (defaults to the configured site)")

	root.AddCommand(
		a.syncCmd(),
		a.statsCmd(),
		a.backupCmd(),
		a.testConnectionCmd(),
		a.serveCmd(),
		a.pollCmd(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [type]",
		Short: "Run one sync pass (all entity types, or one of post|category|tag|media)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var types []model.EntityType
			if len(args) == 1 {
				t, ok := model.ParseEntityType(args[0])
				if !ok {
					return fmt.Errorf("unknown entity type %q", args[0])
				}
				types = append(types, t)
			}
			ctx, cancel := signalContext()
			defer cancel()
			rep, err := a.eng.TriggerSync(ctx, a.scope, types...)
			if err != nil {
				return err
			}
			for _, r := range rep.Failed() {
				logx.Warnf("失败：%s local=%s remote=%d %s", r.EntityType, r.LocalID, r.RemoteID, r.Message)
			}
			if err := printJSON(rep.Counts()); err != nil {
				return err
			}
			if len(rep.Aborted) > 0 {
				return fmt.Errorf("sync aborted for %d entity type(s)", len(rep.Aborted))
			}
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print connection status, counts and the last successful sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			st, err := a.eng.GetStats(ctx, a.scope)
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export a full snapshot of the remote site to a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			snap, err := a.eng.CreateBackup(ctx, a.scope)
			if err != nil {
				return err
			}
			path, err := a.eng.SaveBackup(snap, dir)
			if err != nil {
				return err
			}
			for _, w := range snap.Warnings {
				logx.Warnf("备份告警：%s", w)
			}
			logx.Infof("已导出 %s（%d 字节，partial=%v）", path, snap.SizeBytes, snap.Partial)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "output directory (defaults to SITE.backup.dir)")
	return cmd
}

func (a *app) testConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Verify the configured credentials against the remote site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			conn, err := a.eng.Connection(a.scope)
			if err != nil {
				return err
			}
			st := a.eng.TestConnection(ctx, conn)
			if err := printJSON(st); err != nil {
				return err
			}
			if !st.OK {
				return errors.New(st.Message)
			}
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var poll bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			srv := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           api.New(a.eng),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if poll {
				go func() {
					if err := a.eng.Run(ctx, a.scope); err != nil {
						logx.Errorf("轮询未启动：%v", err)
					}
				}()
			}
			errCh := make(chan error, 1)
			go func() {
				logx.Infof("HTTP 接口监听 %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			shutdown, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			logx.Infof("正在关闭 HTTP 接口")
			return srv.Shutdown(shutdown)
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "also run the periodic sync/backup poller")
	return cmd
}

func (a *app) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Sync every poll_interval and take scheduled backups until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return a.eng.Run(ctx, a.scope)
		},
	}
}
