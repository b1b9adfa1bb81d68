package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	NumConnections     = "NumConnections"
	NumRoomSessions    = "NumRoomSessions"
	NumRejectedJoins   = "NumRejectedJoins"
	NumPublishedEvents = "NumPublishedEvents"
	NumTopics          = "NumTopics"
	NumClients         = "NumClients"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	RegisterGauge(name string, fn func() int)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater publishing under name and serves
// the values at GET /debug/vars on mux.
func NewStatsUpdater(mux *http.ServeMux, name string) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = new(expvar.Map).Init()
	if expvar.Get(name) == nil {
		expvar.Publish(name, su.vars)
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(int64(req.value))
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.updateChan <- &metricsUpdateReq{name: name, value: -1}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

// RegisterGauge publishes a value read from fn each time the stats are
// served, for counts owned by another component.
func (su *StatsUpdater) RegisterGauge(name string, fn func() int) {
	su.vars.Set(name, expvar.Func(func() any {
		return fn()
	}))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
