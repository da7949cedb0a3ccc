package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/jobs/cron"
	"github.com/hftsim/matchbox/marketdata"
	"github.com/hftsim/matchbox/matching"
	"github.com/hftsim/matchbox/risk"
	"github.com/hftsim/matchbox/server"
	"github.com/hftsim/matchbox/session"
	"github.com/hftsim/matchbox/types"
)

func main() {
	if err := config.InitializeConfig(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	args := os.Args[1:]
	if len(args) == 0 {
		// demo mode: generate a stream and replay it
		const demoFile = "market_orders.csv"
		if err := generate(demoFile, 50000); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		if err := run(demoFile, ""); err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		return
	}

	var err error
	switch args[0] {
	case "generate":
		if len(args) != 3 {
			err = fmt.Errorf("usage: matchbox generate <file> <count>")
			break
		}
		var count uint64
		count, err = strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			break
		}
		err = generate(args[1], count)
	case "run":
		if len(args) < 2 || len(args) > 3 {
			err = fmt.Errorf("usage: matchbox run <file> [config.yml]")
			break
		}
		cfgPath := ""
		if len(args) == 3 {
			cfgPath = args[2]
		}
		err = run(args[1], cfgPath)
	case "serve":
		cfgPath := ""
		if len(args) == 2 {
			cfgPath = args[1]
		}
		err = serve(cfgPath)
	default:
		err = fmt.Errorf("unknown command %q, expected generate, run or serve", args[0])
	}

	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}

func generate(path string, count uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	g := marketdata.NewGenerator(42)
	if err := g.WriteCSV(f, count); err != nil {
		return err
	}
	config.Logger.Infof("generated %d orders into %s", count, path)
	return nil
}

func loadConfig(path string) (*config.EngineConfig, error) {
	if path == "" {
		return config.DefaultEngineConfig(), nil
	}
	return config.LoadEngineConfig(path)
}

// setupEngine builds an engine from configuration: tick grid, trader
// limits, circuit breaker and an initial reference price so the fat
// finger check is armed from the first order.
func setupEngine(cfg *config.EngineConfig) (*matching.Engine, error) {
	engine := matching.NewEngine(cfg.Symbol)
	if !cfg.RefillToBack {
		engine.SetRefillPolicy(matching.RefillKeepPriority)
	}

	if len(cfg.TickRules) > 0 {
		table := matching.NewEmptyTickTable()
		for _, r := range cfg.TickRules {
			max := r.MaxPrice
			if max == 0 {
				max = math.MaxInt64
			}
			if err := table.AddRule(r.MinPrice, max, r.TickSize); err != nil {
				return nil, err
			}
		}
		engine.SetTickTable(table)
	}

	riskMgr := engine.Risk()
	for _, l := range cfg.Limits {
		limits := riskLimits(l)
		for owner := l.OwnerFrom; owner <= l.OwnerTo; owner++ {
			if err := riskMgr.SetTraderLimits(owner, limits); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Breaker != nil {
		riskMgr.Breaker().SetLimits(cfg.Breaker.Reference, decimal.NewFromFloat(cfg.Breaker.Percentage))
		riskMgr.MarkToMarket(cfg.Breaker.Reference)
	}

	return engine, nil
}

func riskLimits(l config.LimitsConfig) risk.Limits {
	return risk.Limits{
		MaxPosition:       l.MaxPosition,
		MaxOrderQty:       l.MaxOrderQty,
		MaxOrderValue:     l.MaxOrderValue,
		DailyLossLimit:    l.DailyLossLimit,
		MaxPriceDeviation: decimal.NewFromFloat(l.MaxPriceDeviation),
		MaxOrdersPerSec:   int(l.MaxOrdersPerSec),
		MaxDailyVolume:    l.MaxDailyVolume,
	}
}

func run(path, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	engine, err := setupEngine(cfg)
	if err != nil {
		return err
	}

	records, _, err := marketdata.ReadCSVFile(path)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no parseable orders in %s", path)
	}

	latencies := make([]int64, 0, len(records))
	var tradeCount, restedEmpty uint64

	markEvery := cfg.MarkToMarket
	if markEvery <= 0 {
		markEvery = 1000
	}

	start := time.Now()
	for i, rec := range records {
		req := rec.Request
		// the generator's first ten owners are the market makers
		req.IsMarketMaker = req.OwnerID <= 10

		orderStart := time.Now()
		trades := engine.AddOrder(req)
		latencies = append(latencies, time.Since(orderStart).Nanoseconds())

		tradeCount += uint64(len(trades))
		if len(trades) == 0 && (req.Type == types.TypeGTC || req.Type == types.TypeIceberg) {
			restedEmpty++
		}

		if int64(i+1)%markEvery == 0 {
			mid := int64(100000)
			if bid, ask := engine.BestBid(), engine.BestAsk(); bid > 0 && ask > 0 {
				mid = (bid + ask) / 2
			}
			engine.MarkToMarket(mid)
		}
	}
	elapsed := time.Since(start)

	printReport(engine, latencies, uint64(len(records)), tradeCount, restedEmpty, elapsed)
	return nil
}

func printReport(engine *matching.Engine, latencies []int64, orders, trades, rested uint64, elapsed time.Duration) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum int64
	for _, l := range latencies {
		sum += l
	}
	mean := float64(sum) / float64(len(latencies))
	pct := func(p float64) float64 {
		idx := int(float64(len(latencies)) * p)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return float64(latencies[idx]) / 1000.0
	}

	millis := elapsed.Milliseconds()
	if millis == 0 {
		millis = 1
	}

	fmt.Println("\n=== PERFORMANCE REPORT ===")
	fmt.Printf("orders processed:   %d\n", orders)
	fmt.Printf("trades executed:    %d\n", trades)
	fmt.Printf("rested or rejected: %d\n", rested)
	fmt.Printf("total time:         %d ms\n", millis)
	fmt.Printf("throughput:         %d orders/sec\n", int64(orders)*1000/millis)

	fmt.Println("\nlatency per order:")
	fmt.Printf("  mean: %.1f us\n", mean/1000.0)
	fmt.Printf("  p50:  %.1f us\n", pct(0.50))
	fmt.Printf("  p95:  %.1f us\n", pct(0.95))
	fmt.Printf("  p99:  %.1f us\n", pct(0.99))
	fmt.Printf("  min:  %.1f us\n", float64(latencies[0])/1000.0)
	fmt.Printf("  max:  %.1f us\n", float64(latencies[len(latencies)-1])/1000.0)

	allocated, capacity := engine.PoolStats()
	fmt.Println("\norder pool:")
	fmt.Printf("  allocated: %d / %d\n", allocated, capacity)

	stats := engine.Stats()
	fmt.Println("\nengine counters:")
	fmt.Printf("  orders:         %d\n", stats.TotalOrders)
	fmt.Printf("  trades:         %d\n", stats.TotalTrades)
	fmt.Printf("  volume:         %d\n", stats.TotalVolume)
	fmt.Printf("  cancelled:      %d\n", stats.TotalCancelled)
	fmt.Printf("  ioc discarded:  %d\n", stats.TotalIOCDiscarded)
	fmt.Printf("  stops fired:    %d\n", stats.TotalStopsFired)
	fmt.Printf("  risk rejected:  %d\n", stats.TotalRiskRejected)
	fmt.Printf("\nbook: best bid %d, best ask %d, %d bid levels, %d ask levels, %d open orders\n",
		engine.BestBid(), engine.BestAsk(), engine.BidLevels(), engine.AskLevels(), engine.OrderCount())
}

func serve(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	engine, err := setupEngine(cfg)
	if err != nil {
		return err
	}

	sessions := session.NewManager()

	job := &cron.MaintenanceJob{Engine: engine, Sessions: sessions}
	go job.Process()

	srv := server.New(engine, sessions)
	app := srv.SetupRouter()

	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":9200"
	}
	config.Logger.Infof("matchbox serving %s on %s", cfg.Symbol, addr)
	return app.Listen(addr)
}
