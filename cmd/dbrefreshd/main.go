// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// dbrefreshd keeps a fresh point-in-time clone of a production
// database cluster available for non-production use, replacing it on a
// fixed cadence and retiring what it supersedes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/cloudacademy/dbrefresh/core/clone"
	"github.com/cloudacademy/dbrefresh/internal/config"
	"github.com/cloudacademy/dbrefresh/internal/notify"
	provideraws "github.com/cloudacademy/dbrefresh/internal/provider/aws"
	"github.com/cloudacademy/dbrefresh/internal/refresher"
	"github.com/cloudacademy/dbrefresh/internal/worker/refreshtrigger"
)

var logger = loggo.GetLogger("dbrefresh.cmd")

type commandLineArgs struct {
	configPath string
	oneShot    bool
	logConfig  string
}

func commandLine() commandLineArgs {
	flags := gnuflag.NewFlagSet("dbrefreshd", gnuflag.ExitOnError)
	var a commandLineArgs
	flags.StringVar(&a.configPath, "config", "/etc/dbrefresh.yaml",
		"path to the configuration file")
	flags.BoolVar(&a.oneShot, "one-shot", false,
		"run a single refresh cycle and exit instead of running on a schedule")
	flags.StringVar(&a.logConfig, "log-config", "<root>=INFO",
		"loggo configuration string, e.g. <root>=DEBUG")
	flags.Parse(true, os.Args[1:])
	return a
}

func setupLogging(logConfig string) error {
	_, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(os.Stderr, logFormatter))
	if err != nil {
		return errors.Trace(err)
	}
	return loggo.ConfigureLoggers(logConfig)
}

func logFormatter(entry loggo.Entry) string {
	ts := entry.Timestamp.In(time.UTC).Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s %s %s %s", ts, entry.Level, entry.Module, entry.Message)
}

func checkErr(label string, err error) {
	if err != nil {
		logger.Errorf("%s: %v", label, err)
		os.Exit(1)
	}
}

func main() {
	args := commandLine()
	checkErr("setup logging", setupLogging(args.logConfig))

	cfg, err := config.Read(args.configPath)
	checkErr("read configuration", err)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stack, err := provideraws.NewStack(ctx, cfg.Region, cfg.VPCID)
	checkErr("build AWS clients", err)

	var notifier refreshtrigger.Notifier = notify.LogEmitter{}
	if cfg.SNSTopicARN != "" {
		notifier = notify.NewSNSEmitter(stack.SNS, cfg.SNSTopicARN)
	}

	runner, err := refresher.New(refresher.Config{
		SourceClusterID: cfg.SourceCluster,
		Prefix:          cfg.NamingPrefix,
		Rules:           cfg.Rules(),
		InstanceClass:   cfg.InstanceClass,
		SubnetGroup:     cfg.SubnetGroup,
		ExtraTags:       cfg.Tags,
		CycleTimeout:    cfg.CycleTimeout,
		PollInterval:    cfg.PollInterval,
		GracePeriod:     cfg.GracePeriod,
		Clock:           clock.WallClock,
		Clusters:        stack.Clusters,
		Network:         stack.Network,
		Secrets:         stack.Secrets,
	})
	checkErr("build refresher", err)

	if args.oneShot {
		os.Exit(runOnce(ctx, cfg.SourceCluster, runner, notifier))
	}

	w, err := refreshtrigger.New(refreshtrigger.Config{
		Source:   cfg.SourceCluster,
		Interval: cfg.RefreshInterval,
		Runner:   runner,
		Notifier: notifier,
		Clock:    clock.WallClock,
	})
	checkErr("start worker", err)
	logger.Infof("refreshing %q every %v", cfg.SourceCluster, cfg.RefreshInterval)

	go func() {
		<-ctx.Done()
		logger.Infof("shutting down")
		w.Kill()
	}()
	checkErr("worker", w.Wait())
}

// runOnce drives a single cycle for --one-shot, reporting the outcome
// the same way the scheduled worker does.
func runOnce(ctx context.Context, source string, runner *refresher.Refresher, notifier refreshtrigger.Notifier) int {
	result, err := runner.Refresh(ctx)
	switch {
	case errors.Is(err, clone.CycleInFlight):
		logger.Infof("refresh of %q skipped: %v", source, err)
		return 0
	case err != nil:
		logger.Errorf("refresh of %q failed: %v", source, err)
		if perr := notifier.Publish(ctx, notify.Failure(source, err)); perr != nil {
			logger.Errorf("publishing failure event: %v", perr)
		}
		return 1
	}
	event := notify.Success(source, result.Generation, result.ClusterID)
	if result.RetireError != nil {
		event.Warning = result.RetireError.Error()
	}
	logger.Infof("refresh of %q complete: generation %d (%s)", source, result.Generation, result.ClusterID)
	if perr := notifier.Publish(ctx, event); perr != nil {
		logger.Errorf("publishing success event: %v", perr)
	}
	return 0
}
