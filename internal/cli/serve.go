package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"FloorVault/internal/config"
	"FloorVault/internal/core"
	"FloorVault/internal/event"
	"FloorVault/internal/ingestion"
	"FloorVault/internal/ledger"
	"FloorVault/internal/observability"
	"FloorVault/internal/persistence"
	"FloorVault/internal/projection"
	"FloorVault/internal/query"
	"FloorVault/internal/server"
	"FloorVault/internal/state"
)

var log = observability.NewLogger("cli")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vault ledger service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	log.Info().Msg("FloorVault starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load snapshot")
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Info().Int64("sequence", snap.Sequence).Msg("loaded snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel
	// drops when full and the rebuild endpoint recovers.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectChanSize)

	// Bridge channels for the workers (avoids import cycles)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	deterministicCore := core.NewDeterministicCore(
		startSequence,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	// --- Snapshot restore + LRU warming ---
	if snap != nil {
		restoreStateFromSnapshot(deterministicCore, snap)
		if len(snap.IdempotencyKeys) > 0 {
			log.Info().Int("keys", len(snap.IdempotencyKeys)).Msg("warming idempotency LRU")
			deterministicCore.WarmLRU(snap.IdempotencyKeys)
		}
	}

	// --- Event replay ---
	// Replay mode bypasses the Postgres idempotency tier (replayed events
	// are all already in the log) and suppresses re-emission to the
	// persistence and projection channels.
	replayStart := time.Now()
	deterministicCore.BeginReplay()
	replayCount, err := replayEventsFromLog(ctx, snapMgr, deterministicCore, startSequence)
	deterministicCore.EndReplay()
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if replayCount > 0 {
		metrics.ReplayEventsTotal.Add(float64(replayCount))
		metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
		log.Info().
			Int64("events", replayCount).
			Int64("sequence", deterministicCore.GetSequence()).
			Msg("replay complete")
	}

	// --- State hash verification ---
	// Replayed events are verified row by row against the persisted hash
	// chain inside replayEventsFromLog; the snapshot hash is only directly
	// checkable when replay did not advance the chain tip.
	if snap != nil && replayCount == 0 {
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if actual := deterministicCore.GetStateHash(); actual != expected {
			return fmt.Errorf("state hash mismatch after restore: expected %x, got %x", expected, actual)
		}
		log.Info().Msg("state hash verified after snapshot restore")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Services ---
	// The ops service seeds its sequence counters after replay, so
	// HTTP-submitted events continue each partition without gaps.
	submitChan := make(chan ingestion.Submission, cfg.IngestChanSize)
	opsService := ingestion.NewOpsService(submitChan, deterministicCore)
	queryService := query.NewQueryService(db)
	httpServer := server.New(queryService, opsService, healthChecker, db)

	// --- Goroutines ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.BatchSize, cfg.FlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, metrics)
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan)

	go runCoreLoop(ctx, rawEventChan, submitChan, deterministicCore)

	go func() {
		errChan <- httpServer.ListenAndServe(ctx, cfg.HTTPAddr)
	}()

	go runPeriodicSnapshots(ctx, deterministicCore, snapMgr, cfg.SnapshotInterval, metrics)

	go func() {
		errChan <- runMetricsServer(ctx, cfg.MetricsAddr)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("FloorVault ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	cancel()
	natsSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, deterministicCore, snapMgr, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("FloorVault shutdown complete")
	return nil
}

// bridgeCoreOutputs converts core.CoreOutput into persistence, projection,
// and outbound publishing formats. The bridge owns the downstream channels:
// they close only after this loop exits, so a close can never race an
// in-flight send.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			actor := actorString(output.Envelope.Actor)
			stateHash := output.Envelope.StateHash[:]
			prevHash := output.Envelope.PrevHash[:]

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       output.Envelope.Sequence,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					Actor:          actor,
					Payload:        output.Envelope.Payload,
					StateHash:      stateHash,
					PrevHash:       prevHash,
					Timestamp:      output.Envelope.Timestamp,
					SourceSequence: output.Envelope.SourceSequence,
				},
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			persistOut <- pOutput

			select {
			case publishOut <- ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				EventType:      output.Envelope.EventType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				Actor:          actor,
				Payload:        output.Batch,
				StateHash:      stateHash,
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				// Drop if publish channel is full
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				Actor:     actorString(output.Envelope.Actor),
				Timestamp: output.Envelope.Timestamp.UnixMicro(),
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
					})
				}
			}

			for _, delta := range output.Loans {
				pOutput.LoanEvents = append(pOutput.LoanEvents, projection.LoanEvent{
					Kind:            int32(delta.Kind),
					Borrower:        delta.Borrower.String(),
					LoanID:          int64(delta.LoanID),
					EscrowID:        delta.EscrowID.String(),
					VaultLocked:     int64(delta.VaultLocked),
					JitosolBorrowed: int64(delta.JitosolBorrowed),
					StartTime:       delta.StartTime,
					DueTime:         delta.DueTime,
					PeriodsAssessed: int64(delta.PeriodsAssessed),
					PenaltyBurned:   int64(delta.PenaltyBurned),
				})
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop if projection channel is full; rebuild recovers
			}
		}
	}
}

func actorString(actor uuid.UUID) *string {
	if actor == uuid.Nil {
		return nil
	}
	s := actor.String()
	return &s
}

// runCoreLoop is the single goroutine that owns the deterministic core. It
// drains both the NATS raw-event channel (via a parse stage) and the HTTP
// submission channel, so all events are processed strictly one at a time.
func runCoreLoop(
	ctx context.Context,
	rawChan <-chan ingestion.RawEvent,
	submitChan <-chan ingestion.Submission,
	deterministicCore *core.DeterministicCore,
) {
	// Subject-prefix → event-type lookup (subjects end in ".>")
	subjectToType := make(map[string]string)
	for _, sc := range ingestion.DefaultSubjects() {
		prefix := sc.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToType[prefix] = sc.EventType
	}

	// Messages are acked after the parsed event is handed to the typed
	// channel, not after core processing. This keeps AckWait from expiring
	// during slow processing and propagates backpressure via the channel.
	typedEventChan := make(chan event.Event, cap(rawChan))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					close(typedEventChan)
					return
				}

				eventType := resolveEventType(raw.Subject, subjectToType)
				if eventType == "" {
					log.Warn().Str("subject", raw.Subject).Msg("unknown NATS subject")
					raw.AckFunc() // Ack to avoid a redelivery loop
					continue
				}

				evt, err := ingestion.ParseRawEvent(raw, eventType)
				if err != nil {
					log.Warn().Err(err).Str("subject", raw.Subject).Msg("parse event failed")
					raw.AckFunc() // Unparseable events are acked, not retried
					continue
				}

				select {
				case typedEventChan <- evt:
					raw.AckFunc()
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-typedEventChan:
			if !ok {
				return
			}
			if err := deterministicCore.ProcessEvent(evt); err != nil {
				log.Error().
					Err(err).
					Stringer("type", evt.EventType()).
					Str("key", evt.IdempotencyKey()).
					Msg("event rejected")
			}

		case sub, ok := <-submitChan:
			if !ok {
				return
			}
			err := deterministicCore.ProcessEvent(sub.Event)
			if err != nil {
				log.Warn().
					Err(err).
					Stringer("type", sub.Event.EventType()).
					Str("key", sub.Event.IdempotencyKey()).
					Msg("submission rejected")
			}
			sub.Reply <- err
		}
	}
}

// resolveEventType finds the event type for a NATS subject by longest
// prefix match.
func resolveEventType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, evtType := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestType = evtType
			}
		}
	}
	return bestType
}

// --- Snapshot restore & replay ---

// restoreStateFromSnapshot converts a persistence.SnapshotData into
// core.SnapshotState and restores the core's in-memory state.
func restoreStateFromSnapshot(deterministicCore *core.DeterministicCore, snap *persistence.SnapshotData) {
	coreSnap := &core.SnapshotState{
		Sequence: snap.Sequence,
		Balances: make(map[ledger.AccountKey]int64),
		Supply:   make(map[ledger.AssetID]uint64),
		Params: state.ProtocolParams{
			LoanDurationSeconds: snap.LoanDurationSeconds,
			PenaltyRateBps:      snap.PenaltyRateBps,
		},
		TotalLocked:     snap.TotalLocked,
		LoanCounter:     snap.LoanCounter,
		SequenceState:   snap.SequenceState,
		IdempotencyKeys: snap.IdempotencyKeys,
	}

	copy(coreSnap.StateHash[:], snap.StateHash)

	for path, balance := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skip unparseable account in snapshot")
			continue
		}
		coreSnap.Balances[key] = balance
	}

	for asset, supply := range snap.Supply {
		assetID, ok := ledger.GetAssetID(asset)
		if !ok {
			log.Warn().Str("asset", asset).Msg("skip unknown asset in snapshot")
			continue
		}
		coreSnap.Supply[assetID] = supply
	}

	for _, ls := range snap.Loans {
		borrower, err := uuid.Parse(ls.Borrower)
		if err != nil {
			log.Warn().Err(err).Str("borrower", ls.Borrower).Msg("skip malformed loan in snapshot")
			continue
		}
		escrowID, err := uuid.Parse(ls.EscrowID)
		if err != nil {
			log.Warn().Err(err).Str("escrow", ls.EscrowID).Msg("skip malformed loan in snapshot")
			continue
		}
		coreSnap.Loans = append(coreSnap.Loans, &state.Loan{
			Borrower:        borrower,
			LoanID:          ls.LoanID,
			EscrowID:        escrowID,
			VaultLocked:     ls.VaultLocked,
			JitosolBorrowed: ls.JitosolBorrowed,
			StartTime:       ls.StartTime,
			DueTime:         ls.DueTime,
			Version:         ls.Version,
		})
	}

	deterministicCore.RestoreFromSnapshot(coreSnap)
	log.Info().Int64("sequence", snap.Sequence).Msg("restored in-memory state from snapshot")
}

// replayEventsFromLog replays events from the event log starting at
// fromSequence: warm restart replays from the snapshot, cold restart
// replays everything.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
) (int64, error) {
	const batchSize = 1000
	var totalReplayed int64

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			break
		}

		for _, evtRow := range events {
			raw := ingestion.RawEvent{
				Subject: evtRow.EventType,
				Data:    evtRow.Payload,
			}

			typedEvt, err := ingestion.ParseRawEvent(raw, evtRow.EventType)
			if err != nil {
				log.Warn().
					Err(err).
					Int64("sequence", evtRow.Sequence).
					Str("type", evtRow.EventType).
					Msg("skip unparseable event during replay")
				continue
			}

			seqBefore := deterministicCore.GetSequence()
			if err := deterministicCore.ProcessEvent(typedEvt); err != nil {
				// Duplicates and sequence rejections are expected during replay
				log.Debug().Err(err).Int64("sequence", evtRow.Sequence).Msg("replay skip")
			} else if deterministicCore.GetSequence() == seqBefore+1 {
				// The recomputed chain tip must match the persisted one —
				// any divergence means replay produced different state than
				// the original run.
				var persisted [32]byte
				copy(persisted[:], evtRow.StateHash)
				if got := deterministicCore.GetStateHash(); got != persisted {
					return totalReplayed, fmt.Errorf(
						"state hash mismatch at sequence %d during replay: log has %x, recomputed %x",
						evtRow.Sequence, persisted, got)
				}
			}

			totalReplayed++
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, nil
}

// --- Snapshot helpers ---

func runPeriodicSnapshots(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	interval time.Duration,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	lastSnapshotSeq := deterministicCore.GetSequence()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := deterministicCore.GetSequence()
			if currentSeq == lastSnapshotSeq {
				continue // Nothing new to snapshot
			}
			if err := takeSnapshot(ctx, deterministicCore, snapMgr, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshotSeq = currentSeq
			log.Info().Int64("sequence", currentSeq).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot captures the core's in-memory state and persists it.
func takeSnapshot(
	ctx context.Context,
	deterministicCore *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	coreSnap := deterministicCore.CreateSnapshotState()

	snapData := &persistence.SnapshotData{
		Sequence:            coreSnap.Sequence,
		StateHash:           coreSnap.StateHash[:],
		Balances:            make(map[string]int64, len(coreSnap.Balances)),
		Supply:              make(map[string]uint64, len(coreSnap.Supply)),
		Loans:               make([]persistence.LoanSnapshot, 0, len(coreSnap.Loans)),
		TotalLocked:         coreSnap.TotalLocked,
		LoanDurationSeconds: coreSnap.Params.LoanDurationSeconds,
		PenaltyRateBps:      coreSnap.Params.PenaltyRateBps,
		LoanCounter:         coreSnap.LoanCounter,
		SequenceState:       coreSnap.SequenceState,
		IdempotencyKeys:     coreSnap.IdempotencyKeys,
		CreatedAt:           time.Now(),
	}

	for key, balance := range coreSnap.Balances {
		snapData.Balances[key.AccountPath()] = balance
	}

	for assetID, supply := range coreSnap.Supply {
		if name, ok := ledger.GetAssetName(assetID); ok {
			snapData.Supply[name] = supply
		}
	}

	for _, loan := range coreSnap.Loans {
		snapData.Loans = append(snapData.Loans, persistence.LoanSnapshot{
			Borrower:        loan.Borrower.String(),
			LoanID:          loan.LoanID,
			EscrowID:        loan.EscrowID.String(),
			VaultLocked:     loan.VaultLocked,
			JitosolBorrowed: loan.JitosolBorrowed,
			StartTime:       loan.StartTime,
			DueTime:         loan.DueTime,
			Version:         loan.Version,
		})
	}

	if err := snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Mark verified immediately: it was taken from live state
	if err := snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		log.Warn().Err(err).Msg("mark snapshot verified failed")
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
	}

	return nil
}

func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errChan:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
