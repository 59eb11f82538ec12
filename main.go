package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/jonoton/go-runtime"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jonoton/alprd/http"
	"github.com/jonoton/alprd/manage"
)

// Defaults of the command line
var (
	DefaultConfigDirectory = "/etc/openalpr/"
	DefaultLogFile         = "/var/log/alprd.log"
)

type options struct {
	configDir  string
	logFile    string
	foreground bool
	clock      bool
}

func init() {
	formatter := &log.TextFormatter{}
	formatter.TimestampFormat = "01-02-2006 15:04:05"
	formatter.FullTimestamp = true
	log.SetFormatter(formatter)
	log.SetOutput(os.Stdout)
}

func parseFlags() options {
	opts := options{}
	configDir := runtime.GetRuntimeDirectory(".config")
	if configDir == "" {
		configDir = DefaultConfigDirectory
	}
	flag.StringVar(&opts.configDir, "config", configDir, "directory holding alprd.yaml and openalpr.conf1")
	flag.StringVar(&opts.logFile, "log", DefaultLogFile, "log file used when running as a daemon")
	flag.StringVar(&opts.logFile, "l", DefaultLogFile, "shorthand for --log")
	flag.BoolVar(&opts.foreground, "foreground", false, "log to stdout instead of the log file")
	flag.BoolVar(&opts.foreground, "f", false, "shorthand for --foreground")
	flag.BoolVar(&opts.clock, "clock", false, "log motion detection and recognition times")
	flag.Parse()
	return opts
}

func setupLogging(opts options) {
	if !opts.foreground {
		log.SetOutput(&lumberjack.Logger{
			Filename:   opts.logFile,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   false,
		})
	}
	if opts.clock {
		log.SetLevel(log.DebugLevel)
	}
}

// run the daemon until SIGINT or SIGTERM, returns the exit code
func run(opts options) int {
	debug.SetTraceback("all")
	setupLogging(opts)

	paths, err := manage.ResolvePaths(opts.configDir)
	if err != nil {
		log.WithError(err).Errorln("Configuration error")
		return 1
	}
	conf, err := manage.LoadConfig(paths.Config)
	if err != nil {
		log.WithError(err).Errorln("Configuration error")
		return 1
	}
	log.Infof("Starting %d streams from %s", len(conf.Streams), paths.Config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := manage.NewManage(paths, conf, manage.DefaultFactories())
	m.SetClock(opts.clock)
	if err := m.Start(ctx); err != nil {
		log.WithError(err).Errorln("Could not start streams")
		return 1
	}

	var h *http.Http
	httpConf := http.NewConfig(conf.HTTP)
	if httpConf.Enabled() {
		h = http.NewHttp(httpConf, m, m.Feed)
		go func() {
			if err := h.Listen(); err != nil {
				log.WithError(err).Errorln("Status server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Println("Captured ctrl-c")
	if h != nil {
		h.Stop()
	}
	m.Wait()
	log.Infoln("Shutdown complete")
	return 0
}

func main() {
	os.Exit(doMain())
}
