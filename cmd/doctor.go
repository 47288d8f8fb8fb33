package cmd

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencebot/cadence/internal/config"
	"github.com/cadencebot/cadence/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("cadence doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-10s managed (postgres)\n", "Mode:")
		db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN)
		if dbErr != nil {
			fmt.Printf("    %-10s CONNECT FAILED (%s)\n", "Status:", dbErr)
		} else {
			defer db.Close()
			m, mErr := pg.NewMigrator(db)
			if mErr != nil {
				fmt.Printf("    %-10s %s\n", "Schema:", mErr)
			} else if v, dirty, vErr := m.Version(); vErr != nil {
				fmt.Printf("    %-10s no version (run: cadence migrate up)\n", "Schema:")
			} else if dirty {
				fmt.Printf("    %-10s v%d (DIRTY — run: cadence migrate force %d)\n", "Schema:", v, v-1)
			} else {
				fmt.Printf("    %-10s v%d\n", "Schema:", v)
			}
		}
	} else {
		fmt.Printf("    %-10s standalone (sqlite)\n", "Mode:")
		fmt.Printf("    %-10s %s\n", "Path:", cfg.SQLitePath())
	}

	fmt.Println()
	fmt.Println("  Services:")
	checkService("Reply", cfg.Services.ReplyURL)
	checkService("Index", cfg.Services.IndexURL)

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")

	fmt.Println()
	fmt.Println("  Gateway:")
	if cfg.Gateway.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		fmt.Printf("    %-10s %s\n", "Address:", addr)
		client := &http.Client{Timeout: 2 * time.Second}
		if resp, hErr := client.Get("http://" + addr + "/health"); hErr != nil {
			fmt.Printf("    %-10s not running\n", "Status:")
		} else {
			resp.Body.Close()
			fmt.Printf("    %-10s running (%d)\n", "Status:", resp.StatusCode)
		}
	} else {
		fmt.Println("    disabled")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkService(name, url string) {
	if url != "" {
		fmt.Printf("    %-10s %s\n", name+":", url)
	} else {
		fmt.Printf("    %-10s (not configured)\n", name+":")
	}
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-10s %s\n", name+":", status)
}
