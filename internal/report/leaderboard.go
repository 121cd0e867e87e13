package report

import (
	"io"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"

	"github.com/KaramelBytes/tabforge/internal/dataset"
	"github.com/KaramelBytes/tabforge/internal/domain"
)

// LeaderboardRow is one model in the CSV export. Unset metrics are empty
// cells.
type LeaderboardRow struct {
	Rank         int     `csv:"rank"`
	ModelID      string  `csv:"model_id"`
	Model        string  `csv:"model"`
	Algorithm    string  `csv:"algorithm"`
	Best         bool    `csv:"is_best"`
	Accuracy     string  `csv:"accuracy"`
	F1Weighted   string  `csv:"f1_weighted"`
	ROCAUC       string  `csv:"roc_auc"`
	RMSE         string  `csv:"rmse"`
	MAE          string  `csv:"mae"`
	R2           string  `csv:"r2"`
	CVMean       string  `csv:"cv_mean"`
	TrainingTime float64 `csv:"training_time_sec"`
	Size         int64   `csv:"model_size_bytes"`
}

// Leaderboard orders models by rank.
func Leaderboard(models []*domain.TrainedModel) []*LeaderboardRow {
	sorted := append([]*domain.TrainedModel(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	rows := make([]*LeaderboardRow, 0, len(sorted))
	for _, m := range sorted {
		rows = append(rows, &LeaderboardRow{
			Rank:         m.Rank,
			ModelID:      m.ID,
			Model:        m.DisplayName,
			Algorithm:    string(m.Algorithm),
			Best:         m.IsBest,
			Accuracy:     optFloat(m.Metrics.Accuracy),
			F1Weighted:   optFloat(m.Metrics.F1Weighted),
			ROCAUC:       optFloat(m.Metrics.ROCAUC),
			RMSE:         optFloat(m.Metrics.RMSE),
			MAE:          optFloat(m.Metrics.MAE),
			R2:           optFloat(m.Metrics.R2),
			CVMean:       cvMean(m.CrossValScores),
			TrainingTime: m.TrainingTime,
			Size:         m.ModelSize,
		})
	}
	return rows
}

// WriteLeaderboard writes the leaderboard as CSV with a header row.
func WriteLeaderboard(w io.Writer, models []*domain.TrainedModel) error {
	return gocsv.Marshal(Leaderboard(models), w)
}

func optFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return dataset.FormatFloat(*p)
}

func cvMean(scores []float64) string {
	mean, err := stats.Mean(scores)
	if err != nil {
		return ""
	}
	return dataset.FormatFloat(mean)
}
