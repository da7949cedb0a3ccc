package marketdata

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/hftsim/matchbox/matching"
	"github.com/hftsim/matchbox/types"
)

type traderKind int

const (
	kindMarketMaker traderKind = iota
	kindInstitutional
	kindHFT
	kindRetail
)

// traderProfile drives order style per simulated trader.
type traderProfile struct {
	kind           traderKind
	aggressiveness float64
	minSize        int64
	maxSize        int64
	icebergProb    float64
	stopLossProb   float64
}

// marketState is the simulated market the generator prices against.
type marketState struct {
	lastPrice  int64
	bidPrice   int64
	askPrice   int64
	volatility float64
	momentum   float64
	// timeOfDay counts minutes since the open of a 390 minute day.
	timeOfDay  int
	highVolume bool
}

// Generator emits a realistic order stream in the 11-column CSV format.
// The same seed reproduces the same stream.
type Generator struct {
	rng      *rand.Rand
	market   marketState
	profiles []traderProfile
	tick     *matching.TickTable
}

// NewGenerator returns a generator seeded for reproducible runs.
func NewGenerator(seed int64) *Generator {
	g := &Generator{
		rng:  rand.New(rand.NewSource(seed)),
		tick: matching.NewTickTable(),
	}
	g.market = marketState{
		lastPrice:  100000,
		bidPrice:   99999,
		askPrice:   100001,
		volatility: 0.02,
		momentum:   0,
		highVolume: true,
	}
	g.setupProfiles()
	return g
}

// setupProfiles builds the 100-trader population: 10 market makers,
// 20 institutional, 15 HFT, 55 retail.
func (g *Generator) setupProfiles() {
	g.profiles = make([]traderProfile, 100)
	for i := 0; i < 10; i++ {
		g.profiles[i] = traderProfile{kindMarketMaker, 0.4, 100, 500, 0.3, 0.05}
	}
	for i := 10; i < 30; i++ {
		g.profiles[i] = traderProfile{kindInstitutional, 0.7, 500, 2000, 0.7, 0.2}
	}
	for i := 30; i < 45; i++ {
		g.profiles[i] = traderProfile{kindHFT, 0.9, 50, 300, 0.1, 0.15}
	}
	for i := 45; i < 100; i++ {
		g.profiles[i] = traderProfile{kindRetail, 0.8, 10, 200, 0.05, 0.25}
	}
}

// UpdateDynamics advances the simulated market one step: volatility
// clustering, momentum decay, intraday volume pattern and a bounded
// random walk with mean reversion toward 100000.
func (g *Generator) UpdateDynamics() {
	g.market.volatility += g.uniform(-0.001, 0.001)
	g.market.volatility = math.Max(0.005, math.Min(0.05, g.market.volatility))

	g.market.momentum += g.uniform(-0.1, 0.1)
	g.market.momentum *= 0.95

	g.market.timeOfDay = (g.market.timeOfDay + 1) % 390
	t := g.market.timeOfDay
	g.market.highVolume = t < 30 || t > 360 || (t >= 90 && t <= 120)

	change := g.rng.NormFloat64()*(g.market.volatility*0.01) + g.market.momentum*0.1
	increment := int64(change * 50 * g.market.volatility * 100)
	reversion := (100000 - g.market.lastPrice) / 1000

	newPrice := g.market.lastPrice + increment + reversion
	if newPrice < 50000 {
		newPrice = 50000
	}
	if newPrice > 150000 {
		newPrice = 150000
	}
	newPrice = g.tick.RoundToTick(newPrice)
	if newPrice <= 0 {
		return
	}

	g.market.lastPrice = newPrice

	tickSize := g.tick.TickSize(newPrice)
	spread := int64(g.market.volatility * float64(newPrice) * 0.05)
	if spread < tickSize {
		spread = tickSize
	}
	spread = g.tick.RoundToTick(spread)

	g.market.bidPrice = g.tick.RoundToTick(newPrice - spread/2)
	g.market.askPrice = g.tick.RoundToTick(newPrice + spread/2)
	if g.market.askPrice-g.market.bidPrice < tickSize {
		g.market.askPrice = g.market.bidPrice + tickSize
	}
}

// Next produces one order. The first tenth of the run favors resting
// limit orders so the book has depth before aggressive flow arrives.
func (g *Generator) Next(orderID, totalCount uint64) types.OrderRequest {
	traderID := uint32(g.rng.Intn(100)) + 1
	profile := g.profiles[traderID-1]

	orderType := g.pickType(profile, orderID, totalCount)

	quantity := profile.minSize + g.rng.Int63n(profile.maxSize-profile.minSize+1)
	if g.market.highVolume {
		quantity = int64(float64(quantity) * (1.0 + g.rng.Float64()*0.5))
	}

	var isBuy bool
	if math.Abs(g.market.momentum) > 0.01 {
		bias := 0.4
		if g.market.momentum > 0 {
			bias = 0.6
		}
		isBuy = g.rng.Float64() < bias
	} else {
		isBuy = g.rng.Float64() < 0.5
	}
	side := types.SideSell
	if isBuy {
		side = types.SideBuy
	}

	price, stopPrice := g.pickPrices(orderType, profile, isBuy)

	displaySize := quantity
	if orderType == types.TypeIceberg && quantity >= 10 {
		lo, hi := quantity/10, quantity/3
		if hi <= lo {
			hi = lo + 1
		}
		displaySize = lo + g.rng.Int63n(hi-lo)
		if displaySize < 1 {
			displaySize = 1
		}
	}

	return types.OrderRequest{
		ID:            orderID,
		Side:          side,
		Type:          orderType,
		Price:         price,
		StopPrice:     stopPrice,
		Quantity:      quantity,
		Display:       displaySize,
		DisplaySize:   displaySize,
		OwnerID:       traderID,
		SessionID:     uint32(orderID%500) + 1,
		IsMarketMaker: profile.kind == kindMarketMaker,
	}
}

func (g *Generator) pickType(profile traderProfile, orderID, totalCount uint64) types.OrderType {
	r := g.rng.Float64()

	// Build the book first; no market orders in the opening phase.
	if totalCount > 0 && orderID <= totalCount/10 {
		if r < 0.8 {
			return types.TypeGTC
		}
		return types.TypeIceberg
	}

	aggr := profile.aggressiveness
	if g.market.highVolume {
		aggr *= 1.5
	}
	switch {
	case r < aggr:
		return types.TypeMarket
	case r < profile.aggressiveness+profile.icebergProb:
		return types.TypeIceberg
	case r < profile.aggressiveness+profile.icebergProb+profile.stopLossProb:
		return types.TypeStopLoss
	case r < 0.95:
		return types.TypeGTC
	default:
		if g.rng.Float64() < 0.5 {
			return types.TypeIOC
		}
		return types.TypeFOK
	}
}

func (g *Generator) pickPrices(orderType types.OrderType, profile traderProfile, isBuy bool) (price, stopPrice int64) {
	switch orderType {
	case types.TypeMarket:
		return 0, 0

	case types.TypeStopLoss:
		offset := g.uniform(0.02, 0.05)
		if isBuy {
			stopPrice = g.tick.RoundToTick(int64(float64(g.market.lastPrice) * (1 + offset)))
			price = g.tick.RoundToTick(g.market.askPrice)
		} else {
			stopPrice = g.tick.RoundToTick(int64(float64(g.market.lastPrice) * (1 - offset)))
			price = g.tick.RoundToTick(g.market.bidPrice)
		}
		return price, stopPrice

	default:
		if profile.kind == kindMarketMaker {
			tickSize := g.tick.TickSize(g.market.lastPrice)
			r := g.rng.Float64()
			if isBuy {
				switch {
				case r < 0.2:
					price = g.market.askPrice
				case g.rng.Float64() < 0.7:
					price = g.market.bidPrice
				default:
					price = g.market.bidPrice + tickSize
				}
			} else {
				switch {
				case r < 0.2:
					price = g.market.bidPrice
				case g.rng.Float64() < 0.7:
					price = g.market.askPrice
				default:
					price = g.market.askPrice - tickSize
				}
			}
		} else {
			if isBuy {
				price = g.market.bidPrice + int64(profile.aggressiveness*float64(g.market.askPrice-g.market.bidPrice))
			} else {
				price = g.market.askPrice - int64(profile.aggressiveness*float64(g.market.askPrice-g.market.bidPrice))
			}
		}
		if price < 1 {
			price = 1
		}
		return g.tick.RoundToTick(price), 0
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// WriteCSV streams count orders to w, advancing the market dynamics
// every 50 orders.
func (g *Generator) WriteCSV(w io.Writer, count uint64) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("order_id,side,price,quantity,type,disp,display_size,owner,stop_price,session_id,ip_address\n"); err != nil {
		return err
	}
	for id := uint64(1); id <= count; id++ {
		if id%50 == 0 {
			g.UpdateDynamics()
		}
		req := g.Next(id, count)
		ip := fmt.Sprintf("192.168.%d.%d", (id%200)/50, (id%50)+1)
		if _, err := fmt.Fprintf(bw, "%d,%s,%d,%d,%s,%d,%d,%d,%d,%d,%s\n",
			req.ID, req.Side, req.Price, req.Quantity, req.Type,
			req.Display, req.DisplaySize, req.OwnerID, req.StopPrice,
			req.SessionID, ip); err != nil {
			return err
		}
	}
	return bw.Flush()
}
