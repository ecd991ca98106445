package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/archive"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/config"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/common/db"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/geo"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trackerctl",
	Short: "救护车追踪服务的运维工具",
	Long:  "trackerctl 直连追踪服务的数据库，执行引导建号、车辆登记、手动归档等运维操作。",
}

// openDB 按配置连库并迁移（运维命令可能先于服务首次启动执行）。
func openDB() (*gorm.DB, *config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	err = gdb.AutoMigrate(
		&account.Account{}, &account.Phone{},
		&ambulance.Ambulance{},
		&tracking.TrackingSession{}, &tracking.ETATrigger{},
		&archive.ArchivedSession{}, &archive.ArchivedTrigger{},
		&archive.LocationHistoryRecord{}, &archive.ETAHistoryRecord{},
	)
	if err != nil {
		return nil, nil, err
	}
	return gdb, cfg, nil
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap [username]",
	Short: "创建站点管理员（打印临时密码，首次登录必须修改）",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		gdb, cfg, err := openDB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		svc := account.NewService(account.NewRepo(gdb), cfg.Auth)
		acc, tempPass, err := svc.CreateSiteAdmin(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("site admin created: %s (id=%s)\n", acc.Username, acc.ID)
		fmt.Printf("temporary password: %s\n", tempPass)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register-ambulance [name] [lon] [lat]",
	Short: "登记一辆救护车",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		lon, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid lon %q\n", args[1])
			os.Exit(1)
		}
		lat, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid lat %q\n", args[2])
			os.Exit(1)
		}

		gdb, _, err := openDB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		svc := ambulance.NewService(ambulance.NewRepo(gdb))
		amb, err := svc.Register(context.Background(), args[0], geo.Point{Lon: lon, Lat: lat}, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("ambulance registered: %s (id=%s)\n", amb.DisplayName(), amb.ID)
	},
}

var archiveNowCmd = &cobra.Command{
	Use:   "archive-now",
	Short: "立即执行一轮归档压缩",
	Run: func(cmd *cobra.Command, args []string) {
		gdb, cfg, err := openDB()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		compactor := archive.NewCompactor(gdb, tracking.NewRepo(gdb), cfg.Tracker.Retention(), nil)
		moved, err := compactor.CompactOnce(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("archived %d sessions\n", moved)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/tracker-service.json", "配置文件路径")
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(archiveNowCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
