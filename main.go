package main

import (
	"flag"
	"os"
	"runtime"
	"strings"

	"github.com/braidmesh/weave/comm"
	"github.com/braidmesh/weave/config"
	"github.com/braidmesh/weave/crdt"
	"github.com/braidmesh/weave/sync"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	uuid "github.com/satori/go.uuid"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// initMerger configures a merger from the strategy
// table in the supplied config.
func initMerger(conf *config.Config) *crdt.Merger {

	merger := crdt.NewMerger()

	for dataType, strategy := range conf.Merger.Strategies {

		switch strategy {
		case "union":
			merger.SetStrategy(dataType, crdt.StrategyUnion)
		case "last-write-wins":
			merger.SetStrategy(dataType, crdt.StrategyLastWriteWins)
		}
	}

	return merger
}

func main() {

	// Set CPUs usable by weave to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flag that defines a config path.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	flag.Parse()

	logger := initLogger(*loglevelFlag)

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	// Overlay per-device values from an optional .env file.
	if env, envErr := config.LoadEnv(); envErr == nil {

		conf.ApplyEnv(env)

		if env.DeviceName != "" {
			logger = log.With(logger, "device", env.DeviceName)
		}
	}

	metrics := sync.NewMetrics(conf.Sync.PrometheusAddr)
	go sync.RunPromHTTP(logger, conf.Sync.PrometheusAddr)

	merger := initMerger(conf)
	serializer := crdt.NewSerializerWith(nil, conf.Serializer.Compression)
	tracker := sync.NewTracker()

	// Model two devices of the same user diverging offline.
	deviceA := crdt.NewAgent()
	deviceB := crdt.NewAgent()

	level.Info(logger).Log(
		"msg", "created device agents",
		"agent_a", deviceA.ID(),
		"agent_b", deviceB.ID(),
	)

	// Device A opens a conversation and adds a participant.
	convA := crdt.NewConversation(deviceA.ID())
	convA.UpdateName("Weekend plans")
	alice := uuid.NewV4()
	convA.AddParticipant(alice)

	// Device B bootstraps its replica from a snapshot of A, shipped
	// through the serializer as it would be over the wire.
	snapshot, err := serializer.Serialize(convA, crdt.TypeConversation)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to serialize conversation state", "err", err,
		)
		os.Exit(1)
	}

	var shipped crdt.Conversation
	if err := serializer.Deserialize(snapshot, &shipped); err != nil {
		level.Error(logger).Log(
			"msg", "failed to deserialize conversation state", "err", err,
		)
		os.Exit(1)
	}

	convB := crdt.ConversationFrom(deviceB.ID(), convA.ConversationID(), nil, nil)
	if result := convB.Merge(&shipped); result.Status == crdt.MergeConflict {
		level.Error(logger).Log(
			"msg", "bootstrapping device B failed",
			"description", result.Conflict.Description,
		)
		os.Exit(1)
	}

	metrics.OpsApplied.With("crdt_type", crdt.TypeConversation).Add(float64(convB.Version()))

	// Both devices mutate independently while offline.
	bob := uuid.NewV4()
	convA.RemoveParticipant(alice)
	convB.AddParticipant(bob)

	// Reconnect and reconcile.
	tracker.SetNetworkStatus(sync.NetworkOnline)
	tracker.Begin(len(convB.OperationsSince(0)))

	result := merger.Merge(convA, convB, crdt.TypeConversation)
	metrics.Merges.With("crdt_type", crdt.TypeConversation, "result", result.Status.String()).Add(1)

	if result.Status == crdt.MergeConflict {

		metrics.Conflicts.With("crdt_type", crdt.TypeConversation).Add(1)
		tracker.Fail(nil)

		level.Warn(logger).Log(
			"msg", "conversation merge surfaced a conflict",
			"description", result.Conflict.Description,
		)
	} else {

		tracker.Complete()

		level.Info(logger).Log(
			"msg", "conversation replicas reconciled",
			"result", result.Status.String(),
			"participants", len(convA.Participants()),
		)
	}

	// Exchange messages between two replicas of one conversation.
	conversationID := convA.ConversationID()
	msgsA := crdt.NewMessages(conversationID, deviceA.ID())
	msgsB := crdt.NewMessages(conversationID, deviceB.ID())

	sent := msgsA.CreateMessage("See you Saturday?", "text", alice)
	msgsB.AddReceivedMessage(sent)
	msgsB.MarkRead(sent.ID)

	result = merger.Merge(msgsA, msgsB, crdt.TypeMessage)
	metrics.Merges.With("crdt_type", crdt.TypeMessage, "result", result.Status.String()).Add(1)

	level.Info(logger).Log(
		"msg", "message replicas reconciled",
		"result", result.Status.String(),
		"lamport", msgsA.LamportClock(),
	)

	// Render the pending outbox as a wire-level sync message.
	delta, err := serializer.SerializeOperations(msgsA.OperationsSince(0))
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to serialize message operations", "err", err,
		)
		os.Exit(1)
	}

	wire := comm.InitMessage()
	wire.Sender = deviceA.ID()
	wire.VClock = msgsA.VersionVector().Versions
	wire.Payload = delta

	msgsA.ClearPending()

	level.Debug(logger).Log(
		"msg", "sync message rendered",
		"size", len(wire.String()),
	)

	// Persist the reconciled conversation as a tagged envelope.
	envelope, err := serializer.Serialize(convA, crdt.TypeConversation)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to serialize conversation state", "err", err,
		)
		os.Exit(1)
	}

	stats := serializer.Stats(envelope)

	level.Debug(logger).Log(
		"msg", "conversation state serialized",
		"format", stats.Format,
		"bytes", stats.CompressedSize,
		"ratio", stats.CompressionRatio,
	)

	state := tracker.Snapshot()

	level.Info(logger).Log(
		"msg", "sync finished",
		"network", state.NetworkStatus,
		"failed_operations", state.FailedOperations,
	)
}
