package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/dace/pkg/consumption"
	"github.com/hed1ad/dace/pkg/detectors"
	"github.com/hed1ad/dace/pkg/detectors/iforest"
	"github.com/hed1ad/dace/pkg/detectors/kmeans"
	"github.com/hed1ad/dace/pkg/features"
	"github.com/hed1ad/dace/pkg/fusion"
	"github.com/hed1ad/dace/pkg/scaler"
)

// Model is a trained snapshot of the engine: the fitted scaler, both
// detectors and the feature schema they were fitted on. A Model is never
// modified after Train returns and may be shared between goroutines.
type Model struct {
	ID        string
	TrainedAt time.Time
	Features  []string

	Scaler *scaler.Standard
	KMeans *kmeans.KMeans
	Forest *iforest.IsolationForest

	// TrainThreshold is the distance quantile over the training batch.
	TrainThreshold float64
	Policy         fusion.Policy
}

// Train fits a new Model on readings and returns it with the scored training batch.
func Train(readings []consumption.Reading, cfg Config) (*Model, []consumption.ScoredReading, error) {
	if len(readings) == 0 {
		return nil, nil, detectors.ErrEmptyData
	}
	cfg = cfg.withDefaults()

	x := features.Matrix(features.Build(readings))
	sc, err := scaler.Fit(x)
	if err != nil {
		return nil, nil, fmt.Errorf("fit scaler: %w", err)
	}
	z, err := sc.Transform(x)
	if err != nil {
		return nil, nil, err
	}

	km := kmeans.New(
		kmeans.WithClusters(cfg.Clusters),
		kmeans.WithInit(cfg.KMeansInit),
		kmeans.WithSeed(cfg.Seed),
	)
	if err := km.Fit(z); err != nil {
		return nil, nil, fmt.Errorf("fit kmeans: %w", err)
	}

	forest := iforest.New(
		iforest.WithTrees(cfg.Trees),
		iforest.WithSampleSize(cfg.SampleSize),
		iforest.WithContamination(cfg.Contamination),
		iforest.WithSeed(cfg.Seed),
	)
	if err := forest.Fit(z); err != nil {
		return nil, nil, fmt.Errorf("fit isolation forest: %w", err)
	}

	m := &Model{
		ID:        uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Features:  features.Names(),
		Scaler:    sc,
		KMeans:    km,
		Forest:    forest,
		Policy:    cfg.Policy,
	}

	scores, isolation, err := m.detect(z)
	if err != nil {
		return nil, nil, err
	}
	m.TrainThreshold = detectors.Quantile(scores, cfg.Policy.Quantile)

	scored, err := m.fuse(readings, scores, isolation)
	if err != nil {
		return nil, nil, err
	}
	return m, scored, nil
}

// Score runs the trained detectors over readings and fuses their verdicts.
func (m *Model) Score(readings []consumption.Reading) ([]consumption.ScoredReading, error) {
	if m == nil {
		return nil, detectors.ErrNotTrained
	}
	if !slices.Equal(m.Features, features.Names()) {
		return nil, fmt.Errorf("%w: model fitted on %v", detectors.ErrSchemaMismatch, m.Features)
	}

	z, err := m.Scaler.Transform(features.Matrix(features.Build(readings)))
	if err != nil {
		return nil, err
	}
	scores, isolation, err := m.detect(z)
	if err != nil {
		return nil, err
	}
	return m.fuse(readings, scores, isolation)
}

func (m *Model) detect(z [][]float64) ([]float64, []bool, error) {
	scores, err := m.KMeans.Predict(z)
	if err != nil {
		return nil, nil, fmt.Errorf("kmeans: %w", err)
	}
	isolation, err := m.Forest.Classify(z)
	if err != nil {
		return nil, nil, fmt.Errorf("isolation forest: %w", err)
	}
	return scores, isolation, nil
}

func (m *Model) fuse(readings []consumption.Reading, scores []float64, isolation []bool) ([]consumption.ScoredReading, error) {
	res, err := m.Policy.Apply(scores, isolation, m.TrainThreshold)
	if err != nil {
		return nil, err
	}

	out := make([]consumption.ScoredReading, len(readings))
	for i, r := range readings {
		out[i] = consumption.ScoredReading{
			Reading:          r,
			KMeansScore:      scores[i],
			IsolationAnomaly: isolation[i],
			FinalAnomaly:     res.Flags[i],
		}
	}
	return out, nil
}

type modelPayload struct {
	ID             string
	TrainedAt      time.Time
	Features       []string
	Scaler         scaler.Standard
	KMeans         []byte
	Forest         []byte
	TrainThreshold float64
	Quantile       float64
	Mode           string
}

// MarshalBinary encodes the model with gob, embedding each detector's own
// saved form.
func (m *Model) MarshalBinary() ([]byte, error) {
	km, err := m.KMeans.Save()
	if err != nil {
		return nil, fmt.Errorf("save kmeans: %w", err)
	}
	forest, err := m.Forest.Save()
	if err != nil {
		return nil, fmt.Errorf("save isolation forest: %w", err)
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(modelPayload{
		ID:             m.ID,
		TrainedAt:      m.TrainedAt,
		Features:       m.Features,
		Scaler:         *m.Scaler,
		KMeans:         km,
		Forest:         forest,
		TrainThreshold: m.TrainThreshold,
		Quantile:       m.Policy.Quantile,
		Mode:           string(m.Policy.Mode),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalModel decodes a model written by MarshalBinary.
func UnmarshalModel(data []byte) (*Model, error) {
	var p modelPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	km := kmeans.New()
	if err := km.Load(p.KMeans); err != nil {
		return nil, fmt.Errorf("load kmeans: %w", err)
	}
	forest := iforest.New()
	if err := forest.Load(p.Forest); err != nil {
		return nil, fmt.Errorf("load isolation forest: %w", err)
	}
	mode, err := fusion.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}

	sc := p.Scaler
	return &Model{
		ID:             p.ID,
		TrainedAt:      p.TrainedAt,
		Features:       p.Features,
		Scaler:         &sc,
		KMeans:         km,
		Forest:         forest,
		TrainThreshold: p.TrainThreshold,
		Policy:         fusion.Policy{Quantile: p.Quantile, Mode: mode},
	}, nil
}
