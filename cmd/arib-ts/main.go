// Command arib-ts is a batch of single-shot filters and collectors for ARIB
// TS streams. Each invocation reads a TS byte stream (stdin or FILE), applies
// one transformation, and writes either a filtered TS stream or JSON lines to
// stdout.
//
// Usage:
//
//	arib-ts <subcommand> [options] [FILE]
//
// Subcommands: scan-services, collect-eits, collect-eitpf, collect-logos,
// sync-clocks, track-airtime, filter-service, filter-program, seek-start,
// record-service, collect-program-metadata, collect-packet-stats, print-pes,
// print-timetable.
//
// Logging goes to stderr and is controlled with MIRAKC_ARIB_LOG (level) and
// MIRAKC_ARIB_LOG_NO_TIMESTAMP=1.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aribtools/arib-ts/internal/collector"
	"github.com/aribtools/arib-ts/internal/filter"
	"github.com/aribtools/arib-ts/internal/logging"
	"github.com/aribtools/arib-ts/internal/recorder"
	"github.com/aribtools/arib-ts/internal/ts"
	"github.com/aribtools/arib-ts/internal/tsio"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(tsio.ExitFailure)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(tsio.ExitSuccess)
	}

	logging.Init(cmd)

	run, ok := subcommands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", cmd)
		usage()
		os.Exit(tsio.ExitFailure)
	}
	os.Exit(run(args))
}

var subcommands = map[string]func([]string) int{
	"scan-services":            runScanServices,
	"collect-eits":             runCollectEits,
	"collect-eitpf":            runCollectEitpf,
	"collect-logos":            runCollectLogos,
	"sync-clocks":              runSyncClocks,
	"track-airtime":            runTrackAirtime,
	"filter-service":           runFilterService,
	"filter-program":           runFilterProgram,
	"seek-start":               runSeekStart,
	"record-service":           runRecordService,
	"collect-program-metadata": runCollectProgramMetadata,
	"collect-packet-stats":     runCollectPacketStats,
	"print-pes":                runPrintPes,
	"print-timetable":          runPrintTimetable,
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arib-ts <subcommand> [options] [FILE]")
	fmt.Fprintln(os.Stderr, "subcommands:")
	for _, name := range []string{
		"scan-services", "collect-eits", "collect-eitpf", "collect-logos",
		"sync-clocks", "track-airtime", "filter-service", "filter-program",
		"seek-start", "record-service", "collect-program-metadata",
		"collect-packet-stats", "print-pes", "print-timetable",
	} {
		fmt.Fprintf(os.Stderr, "  %s\n", name)
	}
	fmt.Fprintln(os.Stderr, "run 'arib-ts <subcommand> -h' for subcommand options")
}

// sidList is a repeatable (or comma-separated) list of service IDs.
type sidList []uint16

func (l *sidList) String() string {
	parts := make([]string, len(*l))
	for i, sid := range *l {
		parts[i] = strconv.Itoa(int(sid))
	}
	return strings.Join(parts, ",")
}

func (l *sidList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid service id %q: %w", part, err)
		}
		*l = append(*l, uint16(n))
	}
	return nil
}

// tagList is a comma-separated list of hexadecimal component tags.
type tagList []uint8

func (l *tagList) String() string {
	parts := make([]string, len(*l))
	for i, tag := range *l {
		parts[i] = fmt.Sprintf("%02x", tag)
	}
	return strings.Join(parts, ",")
}

func (l *tagList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(part, "0x"))
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return fmt.Errorf("invalid component tag %q: %w", part, err)
		}
		*l = append(*l, uint8(n))
	}
	return nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: arib-ts %s [options] [FILE]\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// openSource opens the positional FILE argument (default stdin) and wires it
// into a resynchronizing packet source.
func openSource(fs *flag.FlagSet) (*tsio.FileSource, int) {
	path := fs.Arg(0)
	file, err := tsio.OpenRead(path)
	if err != nil {
		logging.Error("%v", err)
		return nil, tsio.ExitFailure
	}
	if path == "" {
		logging.Info("Read packets from STDIN...")
	} else {
		logging.Info("Read packets from %s...", path)
	}
	return tsio.NewFileSource(file), tsio.ExitSuccess
}

// unixMsTime converts a --*=<unix-ms> option into a JST wall-clock time.
// Zero (unset) maps to the zero time.
func unixMsTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return ts.FromUnixMs(ms)
}

func runScanServices(args []string) int {
	fs := newFlagSet("scan-services")
	var sids, xsids sidList
	fs.Var(&sids, "sids", "inclusion list of service IDs (repeatable)")
	fs.Var(&xsids, "xsid", "exclusion list of service IDs (repeatable)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	scanner := collector.NewServiceScanner(collector.ServiceScannerOption{
		Sids:  collector.NewSidSet(sids...),
		XSids: collector.NewSidSet(xsids...),
	})
	scanner.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(scanner)
	return src.FeedPackets()
}

func runCollectEits(args []string) int {
	fs := newFlagSet("collect-eits")
	var xsids sidList
	fs.Var(&xsids, "xsid", "exclusion list of service IDs (repeatable)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	c := collector.NewEitCollector(collector.EitCollectorOption{
		XSids: collector.NewSidSet(xsids...),
	})
	c.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(c)
	return src.FeedPackets()
}

func runCollectEitpf(args []string) int {
	fs := newFlagSet("collect-eitpf")
	var sids sidList
	streaming := fs.Bool("streaming", false, "keep running after all sections were seen")
	onlyPresent := fs.Bool("present", false, "collect only present sections")
	onlyFollowing := fs.Bool("following", false, "collect only following sections")
	fs.Var(&sids, "sids", "inclusion list of service IDs (repeatable)")
	fs.Parse(args)

	if len(sids) == 0 {
		logging.Error("collect-eitpf requires --sids")
		return tsio.ExitFailure
	}
	src, code := openSource(fs)
	if src == nil {
		return code
	}
	option := collector.EitpfCollectorOption{
		Sids:      collector.NewSidSet(sids...),
		Streaming: *streaming,
		Present:   !*onlyFollowing,
		Following: !*onlyPresent,
	}
	c := collector.NewEitpfCollector(option)
	c.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(c)
	return src.FeedPackets()
}

func runCollectLogos(args []string) int {
	fs := newFlagSet("collect-logos")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	c := collector.NewLogoCollector()
	c.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(c)
	return src.FeedPackets()
}

func runSyncClocks(args []string) int {
	fs := newFlagSet("sync-clocks")
	var sids, xsids sidList
	fs.Var(&sids, "sids", "inclusion list of service IDs (repeatable)")
	fs.Var(&xsids, "xsid", "exclusion list of service IDs (repeatable)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	s := collector.NewPcrSynchronizer(collector.PcrSynchronizerOption{
		Sids:  collector.NewSidSet(sids...),
		XSids: collector.NewSidSet(xsids...),
	})
	s.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(s)
	return src.FeedPackets()
}

func runTrackAirtime(args []string) int {
	fs := newFlagSet("track-airtime")
	sid := fs.Uint("sid", 0, "service ID")
	eid := fs.Uint("eid", 0, "event ID")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	t := collector.NewAirtimeTracker(collector.AirtimeTrackerOption{
		SID: uint16(*sid),
		EID: uint16(*eid),
	})
	t.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(t)
	return src.FeedPackets()
}

func runFilterService(args []string) int {
	fs := newFlagSet("filter-service")
	sid := fs.Uint("sid", 0, "service ID to keep")
	timeLimit := fs.Int64("time-limit", 0, "stop streaming at this time (unix ms)")
	fs.Parse(args)

	if *sid == 0 {
		logging.Error("filter-service requires --sid")
		return tsio.ExitFailure
	}
	src, code := openSource(fs)
	if src == nil {
		return code
	}
	f := filter.NewServiceFilter(filter.ServiceFilterOption{
		SID:       uint16(*sid),
		TimeLimit: unixMsTime(*timeLimit),
	})
	f.Connect(tsio.NewStdoutSink())
	src.Connect(f)
	return src.FeedPackets()
}

func runFilterProgram(args []string) int {
	fs := newFlagSet("filter-program")
	sid := fs.Uint("sid", 0, "service ID")
	eid := fs.Uint("eid", 0, "event ID")
	clockPID := fs.Uint("clock-pid", uint(ts.PIDNull), "PID of the PCR baseline")
	clockPCR := fs.Int64("clock-pcr", 0, "PCR value of the clock baseline")
	clockTime := fs.Int64("clock-time", 0, "wall-clock time of the baseline (unix ms)")
	startMargin := fs.Int64("start-margin", 0, "start margin in ms")
	endMargin := fs.Int64("end-margin", 0, "end margin in ms")
	preStreaming := fs.Bool("pre-streaming", false, "feed PAT packets before the start boundary")
	waitUntil := fs.Int64("wait-until", 0, "retry timeout (unix ms)")
	var videoTags, audioTags tagList
	fs.Var(&videoTags, "video-tags", "comma-separated hex component tags of video streams to keep")
	fs.Var(&audioTags, "audio-tags", "comma-separated hex component tags of audio streams to keep")
	fs.Parse(args)

	if *sid == 0 || *eid == 0 {
		logging.Error("filter-program requires --sid and --eid")
		return tsio.ExitFailure
	}
	src, code := openSource(fs)
	if src == nil {
		return code
	}
	f := filter.NewProgramFilter(filter.ProgramFilterOption{
		SID:          uint16(*sid),
		EID:          uint16(*eid),
		ClockPID:     uint16(*clockPID),
		ClockPCR:     ts.PCR(*clockPCR),
		ClockTime:    ts.FromUnixMs(*clockTime),
		StartMargin:  time.Duration(*startMargin) * time.Millisecond,
		EndMargin:    time.Duration(*endMargin) * time.Millisecond,
		PreStreaming: *preStreaming,
		WaitUntil:    unixMsTime(*waitUntil),
		VideoTags:    videoTags,
		AudioTags:    audioTags,
	})
	f.Connect(tsio.NewStdoutSink())
	src.Connect(f)
	return src.FeedPackets()
}

func runSeekStart(args []string) int {
	fs := newFlagSet("seek-start")
	sid := fs.Uint("sid", 0, "service ID")
	maxDuration := fs.Int64("max-duration", 0, "seek budget in ms")
	maxPackets := fs.Int("max-packets", 0, "seek budget in packets")
	fs.Parse(args)

	if *sid == 0 {
		logging.Error("seek-start requires --sid")
		return tsio.ExitFailure
	}
	src, code := openSource(fs)
	if src == nil {
		return code
	}
	s := filter.NewStartSeeker(filter.StartSeekerOption{
		SID:         uint16(*sid),
		MaxDuration: time.Duration(*maxDuration) * time.Millisecond,
		MaxPackets:  *maxPackets,
	})
	s.Connect(tsio.NewStdoutSink())
	src.Connect(s)
	return src.FeedPackets()
}

func runRecordService(args []string) int {
	fs := newFlagSet("record-service")
	sid := fs.Uint("sid", 0, "service ID")
	path := fs.String("file", "", "path of the ring file")
	chunkSize := fs.Uint64("chunk-size", 0, "chunk size in bytes")
	numChunks := fs.Uint64("num-chunks", 0, "number of chunks in the ring")
	startPos := fs.Uint64("start-pos", 0, "chunk-aligned resume position")
	fs.Parse(args)

	if *sid == 0 || *path == "" || *chunkSize == 0 || *numChunks == 0 {
		logging.Error("record-service requires --sid, --file, --chunk-size and --num-chunks")
		return tsio.ExitFailure
	}
	src, code := openSource(fs)
	if src == nil {
		return code
	}
	ring, err := tsio.OpenRing(*path)
	if err != nil {
		logging.Error("%v", err)
		return tsio.ExitFailure
	}
	sink := tsio.NewRingFileSink(ring, *chunkSize, *numChunks)
	if sink == nil {
		return tsio.ExitFailure
	}
	r := recorder.NewServiceRecorder(recorder.ServiceRecorderOption{
		File:      *path,
		SID:       uint16(*sid),
		ChunkSize: *chunkSize,
		NumChunks: *numChunks,
		StartPos:  *startPos,
	})
	r.Connect(sink)
	r.ConnectJsonl(tsio.NewStdoutJsonlSink())
	src.Connect(r)
	return src.FeedPackets()
}

func runCollectProgramMetadata(args []string) int {
	fs := newFlagSet("collect-program-metadata")
	sid := fs.Uint("sid", 0, "service ID (0 = all services)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	f := collector.NewProgramMetadataFilter(collector.ProgramMetadataFilterOption{
		SID: uint16(*sid),
	})
	f.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(f)
	return src.FeedPackets()
}

func runCollectPacketStats(args []string) int {
	fs := newFlagSet("collect-packet-stats")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	c := collector.NewPacketStatsCollector()
	c.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(c)
	return src.FeedPackets()
}

func runPrintPes(args []string) int {
	fs := newFlagSet("print-pes")
	sid := fs.Uint("sid", 0, "service ID (0 = first service in PAT)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	p := collector.NewPesPrinter(collector.ProgramMetadataFilterOption{SID: uint16(*sid)})
	p.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(p)
	return src.FeedPackets()
}

func runPrintTimetable(args []string) int {
	fs := newFlagSet("print-timetable")
	sid := fs.Uint("sid", 0, "service ID (0 = all services)")
	fs.Parse(args)

	src, code := openSource(fs)
	if src == nil {
		return code
	}
	p := collector.NewTimetablePrinter(collector.ProgramMetadataFilterOption{SID: uint16(*sid)})
	p.Connect(tsio.NewStdoutJsonlSink())
	src.Connect(p)
	return src.FeedPackets()
}
