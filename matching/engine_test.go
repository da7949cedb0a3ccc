package matching

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	yaml "gopkg.in/yaml.v2"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/risk"
	"github.com/hftsim/matchbox/types"
)

func TestMain(m *testing.M) {
	config.NewLoggerService()
	os.Exit(m.Run())
}

// openLimits are wide enough that no scenario trips a risk check by
// accident.
func openLimits() risk.Limits {
	return risk.Limits{
		MaxPosition:       1_000_000,
		MaxOrderQty:       100_000,
		MaxOrderValue:     1_000_000_000_000,
		DailyLossLimit:    1_000_000_000,
		MaxPriceDeviation: decimal.NewFromInt(1),
		MaxOrdersPerSec:   1_000_000,
		MaxDailyVolume:    1_000_000_000,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e := NewEngine("TEST")
	var ts int64
	e.SetClock(func() int64 {
		ts += 1000
		return ts
	})
	for owner := uint32(1); owner <= 20; owner++ {
		require.NoError(t, e.Risk().SetTraderLimits(owner, openLimits()))
	}
	return e
}

func limitReq(id uint64, side types.Side, price, qty int64, owner uint32) types.OrderRequest {
	return types.OrderRequest{
		ID:       id,
		Side:     side,
		Type:     types.TypeGTC,
		Price:    price,
		Quantity: qty,
		OwnerID:  owner,
	}
}

type scenarioEntry struct {
	Name   string   `yaml:"name"`
	Orders []string `yaml:"orders"`
	Trades []string `yaml:"trades"`
}

type suiteEngineTester struct {
	suite.Suite
}

func splitFields(line string) []string {
	raw := strings.Split(line, ",")
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		out = append(out, strings.TrimSpace(f))
	}
	return out
}

func (entry *scenarioEntry) run(s *suiteEngineTester) {
	s.T().Run(entry.Name, func(t *testing.T) {
		engine := newTestEngine(t)

		var trades []types.Trade
		for _, line := range entry.Orders {
			f := splitFields(line)
			require.GreaterOrEqual(t, len(f), 6)

			id, _ := strconv.ParseUint(f[0], 10, 64)
			side := types.SideBuy
			if f[1] == "ASK" {
				side = types.SideSell
			}
			price, _ := strconv.ParseInt(f[2], 10, 64)
			qty, _ := strconv.ParseInt(f[3], 10, 64)
			owner, _ := strconv.ParseUint(f[5], 10, 32)

			req := types.OrderRequest{
				ID:       id,
				Side:     side,
				Type:     types.ParseOrderType(f[4]),
				Price:    price,
				Quantity: qty,
				OwnerID:  uint32(owner),
			}
			if len(f) >= 7 {
				req.StopPrice, _ = strconv.ParseInt(f[6], 10, 64)
			}
			if len(f) >= 8 {
				req.DisplaySize, _ = strconv.ParseInt(f[7], 10, 64)
			}

			trades = append(trades, engine.AddOrder(req)...)
		}

		var expected []types.Trade
		for _, line := range entry.Trades {
			f := splitFields(line)
			require.Len(t, f, 4)

			price, _ := strconv.ParseInt(f[0], 10, 64)
			qty, _ := strconv.ParseInt(f[1], 10, 64)
			buyID, _ := strconv.ParseUint(f[2], 10, 64)
			sellID, _ := strconv.ParseUint(f[3], 10, 64)
			expected = append(expected, types.Trade{
				BuyID:    buyID,
				SellID:   sellID,
				Price:    price,
				Quantity: qty,
			})
		}

		require.Len(t, trades, len(expected))
		for i := range expected {
			require.Equal(t, expected[i].Price, trades[i].Price, "trade %d price", i)
			require.Equal(t, expected[i].Quantity, trades[i].Quantity, "trade %d quantity", i)
			require.Equal(t, expected[i].BuyID, trades[i].BuyID, "trade %d buy id", i)
			require.Equal(t, expected[i].SellID, trades[i].SellID, "trade %d sell id", i)
		}
	})
}

func (s *suiteEngineTester) TestScenarios() {
	raw, err := ioutil.ReadFile("./fixtures/scenarios.yaml")
	s.NoError(err)

	var entries []scenarioEntry
	s.NoError(yaml.Unmarshal(raw, &entries))

	for i := range entries {
		entries[i].run(s)
	}
}

func TestEngineScenarios(t *testing.T) {
	suite.Run(t, new(suiteEngineTester))
}

func TestSimpleCrossBookState(t *testing.T) {
	e := newTestEngine(t)

	require.Empty(t, e.AddOrder(limitReq(1, types.SideBuy, 100, 10, 1)))
	trades := e.AddOrder(limitReq(2, types.SideSell, 100, 4, 2))

	require.Len(t, trades, 1)
	require.EqualValues(t, 100, e.BestBid())
	require.EqualValues(t, 0, e.BestAsk())

	resting, ok := e.GetOrder(1)
	require.True(t, ok)
	require.EqualValues(t, 6, resting.Display)
}

func TestMarketMakerPriority(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 5, 1))
	mm := limitReq(2, types.SideBuy, 100, 5, 2)
	mm.IsMarketMaker = true
	e.AddOrder(mm)

	trades := e.AddOrder(limitReq(3, types.SideSell, 100, 5, 3))
	require.Len(t, trades, 1)
	require.EqualValues(t, 2, trades[0].BuyID, "market maker fills before the earlier regular order")
}

func TestTimePriorityWithinQueue(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 5, 1))
	e.AddOrder(limitReq(2, types.SideBuy, 100, 5, 2))

	trades := e.AddOrder(limitReq(3, types.SideSell, 100, 5, 3))
	require.Len(t, trades, 1)
	require.EqualValues(t, 1, trades[0].BuyID)
}

func TestIOCDiscardsResidual(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideSell, 100, 3, 1))

	ioc := limitReq(2, types.SideBuy, 100, 5, 2)
	ioc.Type = types.TypeIOC
	trades := e.AddOrder(ioc)

	require.Len(t, trades, 1)
	require.EqualValues(t, 3, trades[0].Quantity)
	require.EqualValues(t, 0, e.BestBid())
	require.EqualValues(t, 0, e.OrderCount())
	require.EqualValues(t, 1, e.Stats().TotalIOCDiscarded)
}

func TestIcebergRefillAccounting(t *testing.T) {
	e := newTestEngine(t)

	iceberg := limitReq(1, types.SideBuy, 100, 1000, 1)
	iceberg.Type = types.TypeIceberg
	iceberg.DisplaySize = 100
	require.Empty(t, e.AddOrder(iceberg))

	resting, ok := e.GetOrder(1)
	require.True(t, ok)
	require.EqualValues(t, 100, resting.Display)
	require.EqualValues(t, 900, resting.Remaining)

	trades := e.AddOrder(limitReq(2, types.SideSell, 100, 100, 2))
	require.Len(t, trades, 1)

	resting, ok = e.GetOrder(1)
	require.True(t, ok)
	require.EqualValues(t, 100, resting.Display)
	require.EqualValues(t, 800, resting.Remaining)
}

func TestIcebergRefillLosesTimePriority(t *testing.T) {
	e := newTestEngine(t)

	iceberg := limitReq(1, types.SideBuy, 100, 300, 1)
	iceberg.Type = types.TypeIceberg
	iceberg.DisplaySize = 100
	e.AddOrder(iceberg)
	e.AddOrder(limitReq(2, types.SideBuy, 100, 100, 2))

	trades := e.AddOrder(limitReq(3, types.SideSell, 100, 100, 3))
	require.Len(t, trades, 1)
	require.EqualValues(t, 1, trades[0].BuyID, "iceberg holds the front before its first refill")

	trades = e.AddOrder(limitReq(4, types.SideSell, 100, 100, 3))
	require.Len(t, trades, 1)
	require.EqualValues(t, 2, trades[0].BuyID, "refilled tranche queues behind order 2")
}

func TestIcebergRefillKeepPriority(t *testing.T) {
	e := newTestEngine(t)
	e.SetRefillPolicy(RefillKeepPriority)

	iceberg := limitReq(1, types.SideBuy, 100, 300, 1)
	iceberg.Type = types.TypeIceberg
	iceberg.DisplaySize = 100
	e.AddOrder(iceberg)
	e.AddOrder(limitReq(2, types.SideBuy, 100, 100, 2))

	for i := 0; i < 2; i++ {
		trades := e.AddOrder(limitReq(uint64(10+i), types.SideSell, 100, 100, 3))
		require.Len(t, trades, 1)
		require.EqualValues(t, 1, trades[0].BuyID)
	}
}

func TestSelfTradeRemovesPassiveAndRests(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 5, 7))
	trades := e.AddOrder(limitReq(2, types.SideSell, 100, 5, 7))

	require.Empty(t, trades)
	require.EqualValues(t, 0, e.BestBid())
	require.EqualValues(t, 100, e.BestAsk())
	require.EqualValues(t, 0, e.Stats().TotalCancelled, "self-trade removal is not a cancel")

	_, ok := e.GetOrder(1)
	require.False(t, ok)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 5, 1))
	require.True(t, e.CancelOrder(1))
	require.False(t, e.CancelOrder(1))
	require.False(t, e.CancelOrder(99))
	require.EqualValues(t, 0, e.OrderCount())
	require.EqualValues(t, 1, e.Stats().TotalCancelled)
}

func TestCancelPendingStop(t *testing.T) {
	e := newTestEngine(t)

	stop := limitReq(1, types.SideSell, 95, 5, 1)
	stop.Type = types.TypeStopLoss
	stop.StopPrice = 95
	require.Empty(t, e.AddOrder(stop))
	require.EqualValues(t, 1, e.PendingStops())

	require.True(t, e.CancelOrder(1))
	require.EqualValues(t, 0, e.PendingStops())
	require.EqualValues(t, 0, e.OrderCount())
}

func TestCascadeDepthCapLeavesStopsParked(t *testing.T) {
	e := newTestEngine(t)

	for i := int64(0); i < 5; i++ {
		e.AddOrder(limitReq(uint64(100+i), types.SideSell, 100+i, 1, 9))
	}
	for i := int64(0); i < 5; i++ {
		stop := limitReq(uint64(200+i), types.SideBuy, 0, 1, uint32(1+i))
		stop.Type = types.TypeStopLoss
		stop.StopPrice = 100 + i
		e.AddOrder(stop)
	}

	market := limitReq(300, types.SideBuy, 0, 1, 8)
	market.Type = types.TypeMarket
	trades := e.AddOrder(market)

	// aggressor plus three cascade waves; stops four and five stay
	require.Len(t, trades, 4)
	require.EqualValues(t, 2, e.PendingStops())
	require.EqualValues(t, 3, e.Stats().TotalStopsFired)
}

func TestInvalidTickPriceRejected(t *testing.T) {
	e := newTestEngine(t)

	table := NewEmptyTickTable()
	require.NoError(t, table.AddRule(100, 200, 5))
	e.SetTickTable(table)

	require.Empty(t, e.AddOrder(limitReq(1, types.SideBuy, 500, 10, 1)))
	require.EqualValues(t, 0, e.OrderCount())
	require.EqualValues(t, 1, e.Stats().TotalRiskRejected)

	// on-grid price is accepted
	require.Empty(t, e.AddOrder(limitReq(2, types.SideBuy, 150, 10, 1)))
	require.EqualValues(t, 1, e.OrderCount())
}

func TestPriceRoundedToTickOnAdmission(t *testing.T) {
	e := newTestEngine(t)

	require.Empty(t, e.AddOrder(limitReq(1, types.SideBuy, 100003, 10, 1)))
	require.EqualValues(t, 100005, e.BestBid())
}

func TestRiskRejectionLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideSell, 100, 5, 1))
	before := e.Risk().GetPosition(99)

	// owner 99 has no limits installed
	trades := e.AddOrder(limitReq(2, types.SideBuy, 100, 5, 99))
	require.Empty(t, trades)
	require.EqualValues(t, 1, e.OrderCount())
	require.EqualValues(t, 100, e.BestAsk())
	require.Equal(t, before, e.Risk().GetPosition(99))
	require.EqualValues(t, 1, e.Stats().TotalRiskRejected)
}

func TestStatsCounters(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 10, 1))
	e.AddOrder(limitReq(2, types.SideSell, 100, 4, 2))

	stats := e.Stats()
	require.EqualValues(t, 2, stats.TotalOrders)
	require.EqualValues(t, 1, stats.TotalTrades)
	require.EqualValues(t, 4, stats.TotalVolume)
}

func TestDepthSnapshot(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 10, 1))
	e.AddOrder(limitReq(2, types.SideBuy, 100, 5, 2))
	e.AddOrder(limitReq(3, types.SideBuy, 99, 7, 3))
	e.AddOrder(limitReq(4, types.SideSell, 101, 3, 4))

	bids := e.Depth(types.SideBuy, 10)
	require.Len(t, bids, 2)
	require.EqualValues(t, 100, bids[0].Price)
	require.EqualValues(t, 15, bids[0].Quantity)
	require.Equal(t, 2, bids[0].Orders)
	require.EqualValues(t, 99, bids[1].Price)

	asks := e.Depth(types.SideSell, 10)
	require.Len(t, asks, 1)
	require.EqualValues(t, 101, asks[0].Price)
}

func TestPositionsUpdateOnTrade(t *testing.T) {
	e := newTestEngine(t)

	e.AddOrder(limitReq(1, types.SideBuy, 100, 10, 1))
	e.AddOrder(limitReq(2, types.SideSell, 100, 10, 2))

	buyer := e.Risk().GetPosition(1)
	seller := e.Risk().GetPosition(2)
	require.EqualValues(t, 10, buyer.Quantity)
	require.EqualValues(t, 100, buyer.AvgPrice)
	require.EqualValues(t, -10, seller.Quantity)
	require.EqualValues(t, 10, buyer.DailyVolume)
	require.EqualValues(t, 100, e.Risk().LastTradePrice())
}
