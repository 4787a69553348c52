package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/connector/ble"
	"github.com/xconnio/wampble/pkg/connector/ble/goble"
)

var (
	btAdapter = flag.String("bt-adapter", "", "Optional ID of Bluetooth adapter to use (Linux only)")
	all       = flag.Bool("all", false, "List every advertisement, not only devices exposing the service")
	service   = flag.String("service-uuid", ble.DefaultServiceUUID, "GATT service `UUID` to look for")
	duration  = flag.Duration("duration", 0, "Stop after this long (default: until interrupted)")
)

func main() {
	flag.Parse()
	log.SetLevel(log.LevelDebug)
	os.Exit(run())
}

func run() int {
	config := ble.DefaultConfig()
	config.ServiceUUID = *service
	if err := config.Validate(); err != nil {
		log.Error("%s", err)
		return 1
	}

	log.Info("Trying to use BLE adapter: %s", *btAdapter)
	adapter, err := goble.NewAdapter(*btAdapter)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			log.Error("Failed to initialize BLE device: %v (grant CAP_NET_ADMIN and retry)", err)
		} else {
			log.Error("Failed to initialize BLE device: %v", err)
		}
		return 1
	}
	defer adapter.Close()
	log.Info("BLE adapter initialized")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var lock sync.Mutex
	seen := make(map[string]time.Time)
	report := func(b *ble.Beacon) bool {
		if !*all && !config.Matches(b) {
			return false
		}
		lock.Lock()
		defer lock.Unlock()
		if last, ok := seen[b.Address]; ok && time.Since(last) < 5*time.Second {
			return false
		}
		seen[b.Address] = time.Now()
		log.Info("%s %-20q RSSI %4d connectable=%-5v services=%s", b.Address, b.LocalName, b.RSSI, b.Connectable, strings.Join(b.Services, ","))
		// Never match, so the scan keeps running until ctx is done.
		return false
	}

	log.Info("Scanning for BLE devices until interrupted")
	if _, err := adapter.Scan(ctx, report); err != nil && ctx.Err() == nil {
		log.Error("Scan failed: %v", err)
		return 1
	}
	log.Info("Stopping scan; saw %d devices", len(seen))
	return 0
}
