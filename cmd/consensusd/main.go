// Command consensusd runs one shard of a consensuscore cluster: it
// hosts the registration map (C5) atop the replicated data-type runtime
// (C4), which in turn sits on one named consensus log (C2/C3)
// exchanging messages with the rest of the cluster over TCP (C1).
// Grounded on cmd/goshawkdb/main.go's flag parsing, logfmt logging, and
// signal-driven status dump -- without the certificate machinery that
// binary layers on top, since this spec has no such concept.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shardkv/consensuscore"
	"github.com/shardkv/consensuscore/common"
	"github.com/shardkv/consensuscore/config"
	"github.com/shardkv/consensuscore/dispatcher"
	"github.com/shardkv/consensuscore/paxos"
	"github.com/shardkv/consensuscore/reader"
	"github.com/shardkv/consensuscore/registry"
	"github.com/shardkv/consensuscore/retention"
	"github.com/shardkv/consensuscore/status"
	"github.com/shardkv/consensuscore/store/lmdbstore"
	"github.com/shardkv/consensuscore/transport/tcptransport"
	"github.com/shardkv/consensuscore/wireproto"
)

const registrationsLogName common.LogName = "registrations"

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if err := run(logger); err != nil {
		logger.Log("msg", "fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	var configFile string
	var metricsPort int
	var testConsensus bool
	var enablePprof bool
	flag.StringVar(&configFile, "config", "", "`Path` to cluster configuration file (required).")
	flag.IntVar(&metricsPort, "metricsPort", 9090, "Port to serve Prometheus metrics on. Set to 0 to disable.")
	flag.BoolVar(&testConsensus, "test-consensus", false, "Exercise add/remove/dump against the registration map once started and log the result.")
	flag.BoolVar(&enablePprof, "pprof", false, "Serve net/http/pprof debug endpoints.")
	flag.Parse()

	if configFile == "" {
		flag.Usage()
		return fmt.Errorf("missing -config")
	}

	logger.Log("msg", "starting", "version", consensuscore.Version)

	cfg, err := config.LoadJSONFromPath(configFile)
	if err != nil {
		return err
	}
	s, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer s.shutdown()

	if metricsPort > 0 {
		go s.serveMetrics(metricsPort)
	}
	if enablePprof {
		go servePprof(logger)
	}
	if testConsensus {
		go s.runTestConsensus()
	}

	s.awaitSignal()
	return nil
}

// servePprof exposes net/http/pprof on consensuscore.HttpProfilePort,
// the same debug surface goshawkdb's main.go wires up.
func servePprof(logger log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	addr := fmt.Sprintf(":%d", consensuscore.HttpProfilePort)
	logger.Log("msg", "serving pprof", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Log("msg", "pprof server stopped", "err", err)
	}
}

type server struct {
	cfg    *config.Config
	logger log.Logger

	dispatcher dispatcher.Dispatcher
	network    *tcptransport.Network
	persist    *lmdbstore.Store
	sweeper    *retention.Sweeper

	log    *paxos.Log
	reader *reader.MemReader
	regMap *registry.Map

	promRegistry *prometheus.Registry
}

func newServer(cfg *config.Config, logger log.Logger) (*server, error) {
	self, err := cfg.SelfNodeId()
	if err != nil {
		return nil, err
	}
	memberIds, err := cfg.MemberNodeIds()
	if err != nil {
		return nil, err
	}

	addrByMember := make(map[common.NodeId]string, len(cfg.Members))
	var selfAddr string
	for i, m := range cfg.Members {
		addrByMember[memberIds[i]] = m.Address
		if m.NodeId == cfg.Self {
			selfAddr = m.Address
		}
	}

	s := &server{cfg: cfg, logger: logger, promRegistry: prometheus.NewRegistry()}

	s.dispatcher.Init(cfg.ExecutorCount, log.With(logger, "component", "dispatcher"))

	netLogger := log.With(logger, "component", "network")
	s.network, err = tcptransport.NewNetwork(self, selfAddr, addrByMember, netLogger)
	if err != nil {
		return nil, err
	}

	paxMetrics := newPaxosMetrics(s.promRegistry)
	paxosLogger := log.With(logger, "component", "paxos", "log", string(registrationsLogName))
	s.log = paxos.NewLog(registrationsLogName, s.network.TransportFor(registrationsLogName), nil, paxMetrics, paxosLogger)

	logExecutor := s.dispatcher.ExecutorFor(registrationsLogName)
	s.network.Register(registrationsLogName, func(sender common.NodeId, msg wireproto.Message) {
		logExecutor.Enqueue(func() { s.log.Deliver(sender, msg) })
	})

	if cfg.Persistence {
		store, err := lmdbstore.Open(cfg.DataDir, log.With(logger, "component", "lmdbstore"))
		if err != nil {
			return nil, err
		}
		s.persist = store
		if err := s.log.SetPersistence(store); err != nil {
			return nil, err
		}
	}

	members := memberIds
	s.reader = reader.NewMemReader(self, func() []common.NodeId { return members }, len(members), func(event []byte) {
		logger.Log("msg", "pipeline event", "event", string(event))
	})

	regMetrics := newRegistryMetrics(s.promRegistry)
	s.regMap = registry.NewMap(string(registrationsLogName), s.log, s.reader, log.With(logger, "component", "registry"), regMetrics)
	s.log.SetOnDecided(s.regMap.OnDecided)

	if cfg.Retention.Duration() > 0 {
		interval := cfg.RetentionInterval.Duration()
		if interval <= 0 {
			interval = cfg.Retention.Duration() / 4
		}
		s.sweeper = retention.NewSweeper(&s.dispatcher, interval, cfg.Retention.Duration(), 0, log.With(logger, "component", "retention"))
		s.sweeper.Register(s.log)
		s.sweeper.Start()
	}

	return s, nil
}

func (s *server) shutdown() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.persist != nil {
		consensuscore.CheckWarn(s.persist.Close(), log.With(s.logger, "component", "lmdbstore"))
	}
	s.network.Shutdown()
	s.dispatcher.Shutdown()
}

func (s *server) serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	s.logger.Log("msg", "serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		s.logger.Log("msg", "metrics server stopped", "err", err)
	}
}

// runTestConsensus exercises add -> dump -> remove against the
// registration map once the process has had a moment to connect to its
// peers, the supplemented admin command grounded on the original's
// rg.testconsensus debug entry point.
func (s *server) runTestConsensus() {
	time.Sleep(2 * time.Second)

	id := registry.MakeId([]byte(fmt.Sprintf("test-%d", time.Now().UnixNano())))
	exe := s.dispatcher.ExecutorFor(registrationsLogName)

	exe.Enqueue(func() {
		s.regMap.Add(id, []byte("test-descriptor"), []byte("test-routing-key"), "test", "exercised by -test-consensus")
	})

	time.Sleep(1 * time.Second)
	sc := status.NewStatusConsumer()
	s.regMap.Status(sc)
	s.logger.Log("msg", "test-consensus dump after add", "status", sc.String())

	done := make(chan struct{})
	exe.Enqueue(func() {
		s.regMap.Remove(id, func(ok bool, err error) {
			s.logger.Log("msg", "test-consensus remove completed", "ok", ok, "err", err)
			close(done)
		})
	})
	<-done
}

func (s *server) awaitSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	for sig := range sigs {
		switch sig {
		case syscall.SIGHUP:
			s.dumpStatus()
		default:
			s.logger.Log("msg", "shutting down", "signal", sig.String())
			return
		}
	}
}

// dumpStatus implements the dump-logs/dump-registrations control
// surface (§6) as a SIGHUP handler: print every subsystem's Status tree
// to stderr, the same destination goshawkdb's signalStatus writes to.
func (s *server) dumpStatus() {
	sc := status.NewStatusConsumer()
	sc.Emit(fmt.Sprintf("Cluster: %s", s.cfg.ClusterId))
	s.log.Status(sc.Fork())
	s.regMap.Status(sc.Fork())
	os.Stderr.WriteString(sc.String() + "\n")
}

func newPaxosMetrics(reg *prometheus.Registry) *paxos.Metrics {
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensuscore_paxos_in_flight_instances",
		Help: "Number of Paxos instances not yet decided.",
	})
	decided := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consensuscore_paxos_decided_slots_total",
		Help: "Number of slots this shard has seen decided.",
	})
	redelivery := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consensuscore_paxos_redelivery_rejected_total",
		Help: "Number of times a locally-originated value lost its slot and was re-proposed.",
	})
	lifespan := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "consensuscore_paxos_instance_lifespan_seconds",
		Help: "Time from instance creation to decision.",
	})
	reg.MustRegister(inFlight, decided, redelivery, lifespan)
	return &paxos.Metrics{
		InFlightInstances:  inFlight,
		DecidedSlots:       decided,
		RedeliveryRejected: redelivery,
		InstanceLifespan:   lifespan,
	}
}

func newRegistryMetrics(reg *prometheus.Registry) *registry.Metrics {
	m := &registry.Metrics{
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consensuscore_registry_size",
			Help: "Number of active registrations in the map.",
		}),
	}
	reg.MustRegister(m.Size)
	return m
}
