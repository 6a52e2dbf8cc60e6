// Command vita-streamerd is the on-device VITA 49.0 IQ streaming daemon
// (spec.md §1): it tunes a software-defined radio via internal/sdrfacade,
// accepts tuning requests and subscriber registrations over a UDP control
// socket, and fans out Signal Data and Context packets to every registered
// subscriber.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/net/ipv4"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
	"github.com/n5dr/vita-streamer/internal/sdrfacade"
	"github.com/n5dr/vita-streamer/internal/streamer"
	"github.com/n5dr/vita-streamer/internal/subscriber"
	"github.com/n5dr/vita-streamer/internal/telemetry"
)

// dataSocketTTL is the outgoing IP TTL set on every Data/Context datagram,
// high enough to clear a handful of router hops between an embedded host
// and its subscribers.
const dataSocketTTL = 32

// ttlSender wraps the data socket's ipv4.PacketConn so the stream worker's
// per-subscriber unicast fan-out (spec.md §4.3) still looks like a plain
// subscriber.Sender while every datagram carries the configured TTL.
type ttlSender struct {
	pc *ipv4.PacketConn
}

func (s ttlSender) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	dst := net.UDPAddrFromAddrPort(addr)
	return s.pc.WriteTo(b, nil, dst)
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a YAML configuration file seeding the initial radio parameters")
	mtu := flag.Int("mtu", 1500, "Link MTU used to size Data packets")
	jumbo := flag.Bool("jumbo", false, "Use a 9000-byte jumbo-frame MTU (overrides -mtu)")
	controlAddr := flag.String("control-addr", "0.0.0.0:4990", "UDP address the control socket listens on")
	dataPort := flag.Int("data-port", 4991, "UDP port Data and Context packets are sent from")
	metricsAddr := flag.String("metrics-addr", ":9091", "HTTP address the Prometheus /metrics endpoint listens on")
	flag.Parse()

	effectiveMTU := *mtu
	if *jumbo {
		effectiveMTU = 9000
	}

	var fileCfg FileConfig
	if *configPath != "" {
		var err error
		fileCfg, err = loadFileConfig(*configPath)
		if err != nil {
			log.Printf("vita-streamerd: %v", err)
			return 1
		}
		if fileCfg.Network.ControlListen != "" {
			*controlAddr = fileCfg.Network.ControlListen
		}
		if fileCfg.Network.MetricsListen != "" {
			*metricsAddr = fileCfg.Network.MetricsListen
		}
		if fileCfg.Network.DataListen != "" {
			_, portStr, err := net.SplitHostPort(fileCfg.Network.DataListen)
			if err != nil {
				log.Printf("vita-streamerd: invalid network.data_listen %q: %v", fileCfg.Network.DataListen, err)
				return 1
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				log.Printf("vita-streamerd: invalid network.data_listen port %q: %v", portStr, err)
				return 1
			}
			*dataPort = port
		}
	}

	snap, err := initialSnapshot(fileCfg)
	if err != nil {
		log.Printf("vita-streamerd: %v", err)
		return 1
	}

	controlUDPAddr, err := net.ResolveUDPAddr("udp4", *controlAddr)
	if err != nil {
		log.Printf("vita-streamerd: resolving control address: %v", err)
		return 1
	}
	controlConn, err := net.ListenUDP("udp4", controlUDPAddr)
	if err != nil {
		log.Printf("vita-streamerd: binding control socket: %v", err)
		return 1
	}
	defer controlConn.Close()

	dataConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: *dataPort})
	if err != nil {
		log.Printf("vita-streamerd: binding data socket: %v", err)
		return 1
	}
	defer dataConn.Close()

	dataPacketConn := ipv4.NewPacketConn(dataConn)
	if err := dataPacketConn.SetTTL(dataSocketTTL); err != nil {
		log.Printf("vita-streamerd: setting data socket TTL: %v", err)
	}
	sender := ttlSender{pc: dataPacketConn}

	// The real driver binding is an external collaborator (spec.md §1) and
	// is intentionally not implemented here; SyntheticFacade stands in so
	// this daemon is runnable end to end without hardware.
	facade := sdrfacade.NewSynthetic(10_000)
	if err := facade.Open(); err != nil {
		log.Printf("vita-streamerd: opening SDR facade: %v", err)
		return 1
	}
	defer facade.Close()
	if err := facade.Configure(sdrfacade.Params{
		CenterFrequencyHz: snap.CenterFrequencyHz,
		SampleRateHz:      snap.SampleRateHz,
		BandwidthHz:       snap.BandwidthHz,
		GainDB:            snap.GainDB,
		ManualGain:        true,
	}); err != nil {
		log.Printf("vita-streamerd: initial SDR configure: %v", err)
		return 1
	}
	if err := facade.EnableChannels(); err != nil {
		log.Printf("vita-streamerd: enabling channels: %v", err)
		return 1
	}
	if err := facade.NewBuffer(streamer.BufferSamplesFor(snap.SampleRateHz)); err != nil {
		log.Printf("vita-streamerd: allocating sample buffer: %v", err)
		return 1
	}

	cfg := radioconfig.New(snap)
	reg := subscriber.New(func(format string, args ...any) { log.Printf(format, args...) })
	stats := &streamer.Stats{}

	stream, err := streamer.NewStreamWorker(facade, cfg, reg, sender, stats, vitaStreamID, effectiveMTU, snap,
		func(format string, args ...any) { log.Printf(format, args...) })
	if err != nil {
		log.Printf("vita-streamerd: constructing stream worker: %v", err)
		return 1
	}

	control := &streamer.ControlWorker{
		Conn:     controlConn,
		Cfg:      cfg,
		Reg:      reg,
		DataPort: *dataPort,
		Logf:     func(format string, args ...any) { log.Printf(format, args...) },
	}

	metrics := telemetry.NewMetrics()
	reporter := telemetry.NewReporter(metrics)

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: telemetry.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("vita-streamerd: metrics server error: %v", err)
		}
	}()
	defer metricsServer.Close()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			reporter.Update(stats.Snapshot(), reg.ActiveCount())
			reporter.UpdateCPU()
		}
	}()

	sup := &streamer.Supervisor{
		Control: control,
		Stream:  stream,
		Reg:     reg,
		Stats:   stats,
		Logf:    func(format string, args ...any) { log.Printf(format, args...) },
		CPUPercent: func() (float64, error) {
			percents, err := cpu.Percent(0, false)
			if err != nil {
				return 0, err
			}
			if len(percents) == 0 {
				return 0, errors.New("no CPU sample available")
			}
			return percents[0], nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("vita-streamerd: shutdown signal received")
		cancel()
	}()

	log.Printf("vita-streamerd: control=%s data-port=%d mtu=%d metrics=%s", *controlAddr, *dataPort, effectiveMTU, *metricsAddr)
	return sup.Run(ctx)
}

// vitaStreamID is the fixed Stream ID used for every packet this daemon
// emits (spec.md §9: per-channel stream IDs are out of scope).
const vitaStreamID = 0x01000000
