package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-audio-detector/history"
	"github.com/tsawler/go-audio-detector/training"
)

var errNoCheckpoint = errors.New("no epoch improved the validation loss, so there is no checkpoint to evaluate")

type options struct {
	configPath string
	dataPath   string
	dbPath     string
	checkpoint string
	rocPlot    string
	lossPlot   string
	seed       int64
	samples    int
	steps      int
	batchSize  int
	quiet      bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "JSON training config (defaults when empty)")
	flag.StringVar(&opts.dataPath, "data", "", "labeled JSON dataset; synthetic data when empty")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite run history database (disabled when empty)")
	flag.StringVar(&opts.checkpoint, "checkpoint", "", "best checkpoint path (overrides config)")
	flag.StringVar(&opts.rocPlot, "roc", "", "ROC curve PNG path (overrides config)")
	flag.StringVar(&opts.lossPlot, "loss-plot", "loss_curves.png", "training curves PNG path (disabled when empty)")
	flag.Int64Var(&opts.seed, "seed", 42, "seed for weights, splits and shuffling")
	flag.IntVar(&opts.samples, "samples", 650, "synthetic dataset size")
	flag.IntVar(&opts.steps, "steps", 20, "synthetic sequence length")
	flag.IntVar(&opts.batchSize, "batch", 32, "batch size")
	flag.BoolVar(&opts.quiet, "quiet", false, "hide progress bars")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(opts, logger); err != nil {
		logger.WithError(err).Error("training failed")
		os.Exit(1)
	}
}

func run(opts options, logger *logrus.Logger) error {
	cfg := training.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = training.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	cfg.Seed = opts.seed
	cfg.Logger = logger
	if opts.checkpoint != "" {
		cfg.CheckpointPath = opts.checkpoint
	}
	if opts.rocPlot != "" {
		cfg.ROCPlotPath = opts.rocPlot
	}
	if opts.quiet {
		cfg.ShowProgress = false
	}

	dataset, err := loadDataset(opts, cfg)
	if err != nil {
		return err
	}
	splits, err := training.RandomSplit(dataset, []float64{0.7, 0.15, 0.15}, cfg.Seed)
	if err != nil {
		return fmt.Errorf("split dataset: %w", err)
	}
	trainLoader, err := training.NewDataLoader(splits[0], opts.batchSize, true, cfg.Seed)
	if err != nil {
		return err
	}
	valLoader, err := training.NewDataLoader(splits[1], opts.batchSize, false, 0)
	if err != nil {
		return err
	}
	testLoader, err := training.NewDataLoader(splits[2], opts.batchSize, false, 0)
	if err != nil {
		return err
	}

	var store *history.Store
	if opts.dbPath != "" {
		if store, err = history.NewStore(opts.dbPath); err != nil {
			return err
		}
		defer store.Close()
		cfg.Recorder = store
	}

	trainer, err := training.NewModelTrainer(cfg)
	if err != nil {
		return err
	}
	training.NewModelArchitecturePrinter("AudioDetector").PrintArchitecture(os.Stdout, trainer.GetModelSpec())

	if store != nil {
		if _, err := store.StartRun(trainer.RunID(), cfg); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"train": splits[0].Len(),
		"val":   splits[1].Len(),
		"test":  splits[2].Len(),
	}).Info("dataset split")

	result, err := trainer.TrainEpochs(trainLoader, valLoader, cfg.Patience, cfg.MaxEpochs)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"best_epoch":    result.BestEpoch,
		"best_val_loss": result.BestValLoss,
		"stopped_early": result.StoppedEarly,
	}).Info("training finished")

	if opts.lossPlot != "" {
		if err := training.RenderTrainingCurves(result.Epochs, opts.lossPlot); err != nil {
			logger.WithError(err).Warn("failed to render training curves")
		}
	}

	// A checkpoint from an earlier run may still sit at this path.
	if result.BestEpoch == 0 {
		return errNoCheckpoint
	}
	if _, err := trainer.LoadCheckpoint(cfg.CheckpointPath); err != nil {
		return err
	}
	yProb, err := trainer.PredictProb(testLoader)
	if err != nil {
		return err
	}
	yTrue, err := splits[2].Labels()
	if err != nil {
		return err
	}

	auroc, err := trainer.Evaluate(yTrue, yProb)
	if err != nil {
		return err
	}
	report, err := training.NewBinaryReport(yTrue, yProb)
	if err != nil {
		return err
	}
	fmt.Printf("AUROC: %.4f\n%s\n", auroc, report)

	if store != nil {
		if err := store.FinishRun(result, auroc); err != nil {
			return err
		}
	}
	return nil
}

func loadDataset(opts options, cfg training.Config) (training.Dataset, error) {
	if opts.dataPath == "" {
		return training.NewSyntheticDataset(opts.samples, opts.steps, cfg.InputSize, 250.0/650.0, cfg.Seed)
	}
	ds, err := training.LoadJSONDataset(opts.dataPath)
	if err != nil {
		return nil, err
	}
	if !ds.HasLabels() {
		return nil, fmt.Errorf("dataset %s has no labels", opts.dataPath)
	}
	return ds, nil
}
