package cron

import (
	"github.com/jasonlvhit/gocron"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/matching"
	"github.com/hftsim/matchbox/session"
)

// MaintenanceJob runs the engine's housekeeping: the daily risk reset
// at midnight, a periodic mark to market at the last trade price and
// session cleanup.
type MaintenanceJob struct {
	Engine   *matching.Engine
	Sessions *session.Manager
}

// Process blocks on the scheduler. Run it in its own goroutine.
func (j *MaintenanceJob) Process() {
	s := gocron.NewScheduler()
	s.Every(1).Day().At("00:00:00").Do(j.dailyReset)
	s.Every(1).Minute().Do(j.markToMarket)
	s.Every(30).Seconds().Do(j.cleanupSessions)
	<-s.Start()
}

func (j *MaintenanceJob) dailyReset() {
	j.Engine.Risk().DailyReset()
}

func (j *MaintenanceJob) markToMarket() {
	price := j.Engine.Risk().LastTradePrice()
	if price <= 0 {
		return
	}
	j.Engine.MarkToMarket(price)
	config.Logger.Debugf("[cron] marked positions to market at %d", price)
}

func (j *MaintenanceJob) cleanupSessions() {
	if j.Sessions != nil {
		j.Sessions.CleanupInactive()
	}
}
