package training

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-audio-detector/checkpoints"
	"github.com/tsawler/go-audio-detector/engine"
	"github.com/tsawler/go-audio-detector/layers"
	"github.com/tsawler/go-audio-detector/optimizer"
)

// EpochRecord is the outcome of one training epoch.
type EpochRecord struct {
	RunID        string        `json:"run_id"`
	Epoch        int           `json:"epoch"` // 1-based
	TrainLoss    float64       `json:"train_loss"`
	ValLoss      float64       `json:"val_loss"`
	LearningRate float64       `json:"learning_rate"` // in effect during the epoch
	Improved     bool          `json:"improved"`      // a checkpoint was written
	Duration     time.Duration `json:"duration"`
}

// EpochRecorder receives every EpochRecord as soon as the epoch ends.
type EpochRecorder interface {
	RecordEpoch(record EpochRecord) error
}

// TrainingResult summarizes a TrainEpochs run.
type TrainingResult struct {
	RunID          string
	Epochs         []EpochRecord
	BestValLoss    float64
	BestEpoch      int
	StoppedEarly   bool
	CheckpointPath string
}

// ModelTrainingStats reports trainer progress
type ModelTrainingStats struct {
	RunID           string
	CurrentStep     int
	StepCount       uint64
	LearningRate    float64
	AverageLoss     float64
	ModelParameters int64
	LayerCount      int
	Device          string
}

// ModelTrainer trains, applies and evaluates the audio detector.
type ModelTrainer struct {
	config     Config
	logger     *logrus.Logger
	engine     *engine.ModelEngine
	optimizer  optimizer.Optimizer
	loss       Loss
	scheduler  *ReduceLROnPlateauScheduler
	saver      *checkpoints.CheckpointSaver
	visualizer *VisualizationCollector
	device     engine.DeviceInfo

	runID       string
	currentStep int
	lastLoss    float64
}

// NewModelTrainer builds the model, optimizer, loss and scheduler from cfg.
func NewModelTrainer(cfg Config) (*ModelTrainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %w", err)
	}
	modelConfig, err := cfg.modelConfig()
	if err != nil {
		return nil, err
	}
	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		return nil, err
	}

	me, err := engine.NewModelEngine(modelConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create model engine: %w", err)
	}

	adamConfig := optimizer.DefaultAdamConfig()
	adamConfig.LearningRate = cfg.LearningRate
	adamConfig.WeightDecay = cfg.WeightDecay
	adam, err := optimizer.NewAdamOptimizer(adamConfig, me.Parameters())
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	mt := &ModelTrainer{
		config:     cfg,
		logger:     cfg.logger(),
		engine:     me,
		optimizer:  adam,
		loss:       NewBCEWithLogitsLoss(cfg.PosWeight),
		scheduler:  NewReduceLROnPlateauScheduler(cfg.SchedulerFactor, cfg.SchedulerPatience, cfg.SchedulerThreshold, "min"),
		saver:      checkpoints.NewCheckpointSaver(format),
		visualizer: NewVisualizationCollector("AudioDetector"),
		device:     engine.DetectDevice(modelConfig.Device),
		runID:      uuid.New().String(),
	}

	mt.logger.WithFields(logrus.Fields{
		"run_id":     mt.runID,
		"device":     mt.device.String(),
		"parameters": me.GetModelSpec().TotalParameters,
	}).Info("model initialized")
	return mt, nil
}

// RunID identifies this trainer's run in logs, checkpoints and history.
func (mt *ModelTrainer) RunID() string {
	return mt.runID
}

// Engine exposes the underlying model engine.
func (mt *ModelTrainer) Engine() *engine.ModelEngine {
	return mt.engine
}

// Visualizer returns the collector holding this run's plot data.
func (mt *ModelTrainer) Visualizer() *VisualizationCollector {
	return mt.visualizer
}

// LearningRate returns the optimizer's current learning rate.
func (mt *ModelTrainer) LearningRate() float64 {
	return mt.optimizer.LearningRate()
}

// Forward maps a batch to one logit per sample in the current mode.
func (mt *ModelTrainer) Forward(batch *Batch) ([]float64, error) {
	if batch == nil || batch.Features == nil {
		return nil, fmt.Errorf("nil batch")
	}
	return mt.engine.Forward(batch.Features)
}

// TrainEpochs trains for at most maxEpochs epochs. After each epoch the
// scheduler sees the mean validation loss, and a checkpoint is written
// whenever that loss strictly improves. Training stops early once patience
// consecutive epochs pass without improvement.
func (mt *ModelTrainer) TrainEpochs(train, val BatchIterator, patience, maxEpochs int) (*TrainingResult, error) {
	if train == nil || val == nil {
		return nil, fmt.Errorf("train and validation loaders are required")
	}

	stopper := NewEarlyStopping(patience)
	result := &TrainingResult{
		RunID:          mt.runID,
		BestValLoss:    math.Inf(1),
		CheckpointPath: mt.config.CheckpointPath,
	}

	for epoch := 1; epoch <= maxEpochs; epoch++ {
		start := time.Now()
		lr := mt.optimizer.LearningRate()
		mt.logger.WithFields(logrus.Fields{"epoch": epoch, "lr": lr}).
			Infof("Current Learning Rate: %g", lr)

		trainLoss, err := mt.trainPass(train, epoch, maxEpochs)
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		valLoss, err := mt.validationPass(val, epoch, maxEpochs)
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		if newLR := mt.scheduler.Step(valLoss, lr); newLR != lr {
			mt.optimizer.UpdateLearningRate(newLR)
			mt.logger.WithFields(logrus.Fields{"epoch": epoch, "lr": newLR}).Info("reducing learning rate")
		}

		mt.logger.WithFields(logrus.Fields{
			"epoch":      epoch,
			"train_loss": trainLoss,
			"val_loss":   valLoss,
		}).Infof("%03d\ttrain_loss: %.2f\tval_loss: %.2f", epoch, trainLoss, valLoss)

		improved := stopper.Observe(valLoss)
		if improved {
			if err := mt.saveCheckpoint(epoch, trainLoss, valLoss); err != nil {
				return result, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			result.BestValLoss = valLoss
			result.BestEpoch = epoch
		}

		record := EpochRecord{
			RunID:        mt.runID,
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			ValLoss:      valLoss,
			LearningRate: lr,
			Improved:     improved,
			Duration:     time.Since(start),
		}
		result.Epochs = append(result.Epochs, record)
		mt.visualizer.RecordEpoch(record)
		if mt.config.Recorder != nil {
			if err := mt.config.Recorder.RecordEpoch(record); err != nil {
				mt.logger.WithError(err).WithField("epoch", epoch).Warn("failed to record epoch")
			}
		}

		if stopper.ShouldStop() {
			mt.logger.WithField("epoch", epoch).Info("Early Stopping Triggered")
			result.StoppedEarly = true
			break
		}
	}
	return result, nil
}

// trainPass runs one optimization pass and returns the mean batch loss.
func (mt *ModelTrainer) trainPass(it BatchIterator, epoch, maxEpochs int) (float64, error) {
	mt.engine.Train()
	it.Reset()

	var bar *ProgressBar
	if mt.config.ShowProgress {
		bar = NewProgressBar(mt.config.ProgressWriter, fmt.Sprintf("Epoch %d/%d (Training)", epoch, maxEpochs), it.Len())
	}

	var sum float64
	n := 0
	for {
		batch, err := it.Next()
		if err != nil {
			return 0, fmt.Errorf("failed to fetch training batch: %w", err)
		}
		if batch == nil {
			break
		}
		if batch.Labels == nil {
			return 0, fmt.Errorf("training batch %d has no labels", n)
		}

		loss, err := mt.trainStep(batch)
		if err != nil {
			return 0, fmt.Errorf("training step %d: %w", n, err)
		}
		sum += loss
		n++
		if bar != nil {
			bar.Update(n, map[string]float64{"loss": loss})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if n == 0 {
		return 0, fmt.Errorf("training pass: %w", ErrEmptyLoader)
	}
	return sum / float64(n), nil
}

// trainStep performs forward, backward, clipping and one optimizer update.
func (mt *ModelTrainer) trainStep(batch *Batch) (float64, error) {
	logits, err := mt.Forward(batch)
	if err != nil {
		return 0, err
	}
	loss, err := mt.loss.Forward(logits, batch.Labels)
	if err != nil {
		return 0, err
	}
	grads, err := mt.loss.Backward(logits, batch.Labels)
	if err != nil {
		return 0, err
	}

	mt.optimizer.ZeroGrad()
	if err := mt.engine.Backward(grads); err != nil {
		return 0, err
	}
	optimizer.ClipGradNorm(mt.engine.Parameters(), mt.config.MaxGradNorm)
	if err := mt.optimizer.Step(); err != nil {
		return 0, fmt.Errorf("optimizer step failed: %w", err)
	}

	mt.currentStep++
	mt.lastLoss = loss
	return loss, nil
}

// validationPass returns the mean batch loss in evaluation mode.
func (mt *ModelTrainer) validationPass(it BatchIterator, epoch, maxEpochs int) (float64, error) {
	mt.engine.Eval()
	it.Reset()

	var bar *ProgressBar
	if mt.config.ShowProgress {
		bar = NewProgressBar(mt.config.ProgressWriter, fmt.Sprintf("Epoch %d/%d (Validation)", epoch, maxEpochs), it.Len())
	}

	var sum float64
	n := 0
	for {
		batch, err := it.Next()
		if err != nil {
			return 0, fmt.Errorf("failed to fetch validation batch: %w", err)
		}
		if batch == nil {
			break
		}
		if batch.Labels == nil {
			return 0, fmt.Errorf("validation batch %d has no labels", n)
		}
		logits, err := mt.Forward(batch)
		if err != nil {
			return 0, fmt.Errorf("validation batch %d: %w", n, err)
		}
		loss, err := mt.loss.Forward(logits, batch.Labels)
		if err != nil {
			return 0, fmt.Errorf("validation batch %d: %w", n, err)
		}
		sum += loss
		n++
		if bar != nil {
			bar.Update(n, map[string]float64{"loss": loss})
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if n == 0 {
		return 0, fmt.Errorf("validation pass: %w", ErrEmptyLoader)
	}
	return sum / float64(n), nil
}

func (mt *ModelTrainer) saveCheckpoint(epoch int, trainLoss, valLoss float64) error {
	optState, err := mt.optimizer.GetState()
	if err != nil {
		return fmt.Errorf("failed to capture optimizer state: %w", err)
	}
	checkpoint := &checkpoints.Checkpoint{
		ModelSpec: mt.engine.GetModelSpec(),
		Weights:   mt.engine.ExportWeights(),
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         mt.currentStep,
			LearningRate: mt.optimizer.LearningRate(),
			BestLoss:     valLoss,
			TrainLoss:    trainLoss,
			RunID:        mt.runID,
		},
		OptimizerState: optState,
		Metadata: checkpoints.CheckpointMetadata{
			Description: "best validation loss",
			Tags:        []string{"audio-detector", "lstm"},
		},
	}
	if err := mt.saver.SaveCheckpoint(checkpoint, mt.config.CheckpointPath); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	mt.logger.WithFields(logrus.Fields{
		"epoch":    epoch,
		"val_loss": valLoss,
		"path":     mt.config.CheckpointPath,
	}).Debug("checkpoint saved")
	return nil
}

// LoadCheckpoint restores weights, and optimizer state when present, from
// a checkpoint written by TrainEpochs.
func (mt *ModelTrainer) LoadCheckpoint(path string) (*checkpoints.Checkpoint, error) {
	checkpoint, err := mt.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	if err := mt.engine.LoadWeights(checkpoint.Weights); err != nil {
		return nil, fmt.Errorf("failed to restore weights: %w", err)
	}
	if checkpoint.OptimizerState != nil {
		if err := mt.optimizer.LoadState(checkpoint.OptimizerState); err != nil {
			return nil, fmt.Errorf("failed to restore optimizer state: %w", err)
		}
	}
	mt.logger.WithFields(logrus.Fields{
		"path":  path,
		"epoch": checkpoint.TrainingState.Epoch,
	}).Info("checkpoint loaded")
	return checkpoint, nil
}

// PredictProb returns the probability that each sample is AI-generated, in
// input order.
func (mt *ModelTrainer) PredictProb(it BatchIterator) ([]float32, error) {
	if it == nil {
		return nil, fmt.Errorf("loader is required")
	}
	mt.engine.Eval()
	it.Reset()

	var bar *ProgressBar
	if mt.config.ShowProgress {
		bar = NewProgressBar(mt.config.ProgressWriter, "Predicting", it.Len())
	}

	var probs []float32
	n := 0
	for {
		batch, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch: %w", err)
		}
		if batch == nil {
			break
		}
		logits, err := mt.Forward(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", n, err)
		}
		for _, x := range logits {
			probs = append(probs, float32(layers.Sigmoid(x)))
		}
		n++
		if bar != nil {
			bar.Update(n, nil)
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if n == 0 {
		return nil, ErrEmptyLoader
	}
	return probs, nil
}

// Predict returns 1 for samples whose probability is strictly above 0.5
// and 0 otherwise.
func (mt *ModelTrainer) Predict(it BatchIterator) ([]float32, error) {
	probs, err := mt.PredictProb(it)
	if err != nil {
		return nil, err
	}
	preds := make([]float32, len(probs))
	for i, p := range probs {
		if p > 0.5 {
			preds[i] = 1
		}
	}
	return preds, nil
}

// Evaluate computes the ROC curve and its area for yProb against yTrue and
// renders the curve to the configured plot path.
func (mt *ModelTrainer) Evaluate(yTrue, yProb []float32) (float64, error) {
	curve, err := ComputeROC(yTrue, yProb)
	if err != nil {
		return 0, err
	}
	auc := curve.AUC()
	mt.visualizer.RecordROCData(curve, auc)

	if mt.config.ROCPlotPath != "" {
		if err := RenderROCCurve(curve, auc, mt.config.ROCPlotPath); err != nil {
			return auc, err
		}
	}
	mt.logger.WithFields(logrus.Fields{"auroc": auc, "run_id": mt.runID}).Info("evaluation complete")
	return auc, nil
}

// GetStats returns current training statistics
func (mt *ModelTrainer) GetStats() *ModelTrainingStats {
	spec := mt.engine.GetModelSpec()
	return &ModelTrainingStats{
		RunID:           mt.runID,
		CurrentStep:     mt.currentStep,
		StepCount:       mt.optimizer.GetStepCount(),
		LearningRate:    mt.optimizer.LearningRate(),
		AverageLoss:     mt.lastLoss,
		ModelParameters: spec.TotalParameters,
		LayerCount:      len(spec.Layers),
		Device:          mt.device.String(),
	}
}

// GetModelSpec returns the model specification
func (mt *ModelTrainer) GetModelSpec() *layers.ModelSpec {
	return mt.engine.GetModelSpec()
}

// GetModelSummary returns a human-readable model summary
func (mt *ModelTrainer) GetModelSummary() string {
	return mt.engine.GetModelSummary()
}
