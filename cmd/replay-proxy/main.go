package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/form3tech-oss/replay-proxy/internal/app/configuration"
	"github.com/form3tech-oss/replay-proxy/internal/app/fixture"
	"github.com/form3tech-oss/replay-proxy/internal/app/replay"
	log "github.com/sirupsen/logrus"
)

func main() {
	flagCheck := flag.String("check", "", "validate every fixture below this directory and exit")
	flagDebug := flag.Bool("debug", false, "Enable debug log")
	flag.Usage = func() {
		fmt.Println(`Usage: replay-proxy [options]

Replays recorded HTTP interactions. Configured through the environment:
ADMIN_PORT, PROXIES, SERVER_ADDRESS, ORIGIN, FIXTURE, RELAXED_ORDER,
WAIT_DELAY, WAIT_DURATION, TLS_CA_FILE, TLS_CERT_FILE, TLS_KEY_FILE.

Options:`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *flagDebug {
		log.SetLevel(log.DebugLevel)
	}

	if *flagCheck != "" {
		n, err := fixture.CheckDir(*flagCheck)
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		log.Infof("%d fixtures are valid", n)
		return
	}

	config, err := configuration.NewFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	session := &replay.Session{}
	if config.Fixture != "" {
		f, err := fixture.Load(config.Fixture)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := session.Start(f.Scope(), config.Options()...); err != nil {
			log.Fatal(err)
		}
	}

	proxies, err := configuration.ProxyConfigs(config)
	if err != nil {
		log.Fatal(err)
	}
	for _, proxy := range proxies {
		log.Infof("setting up replay server at %s for %s", proxy.ServerAddress.String(), proxy.Origin.String())
		if err := configuration.ConfigureProxy(proxy, session); err != nil {
			log.Fatal(err)
		}
	}

	adminServer := configuration.ServeAdminAPI(config.AdminPort, session, config)

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adminServer.Shutdown(ctx); err != nil {
		log.Error(err)
	}
	configuration.ShutdownAllServers(ctx)

	if _, ok := session.Current(); ok {
		if err := session.Stop(); err != nil {
			log.Warnf("scenario ended unverified: %s", err)
		}
	}
}
