package strata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Model for stress testing
type Record struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Name      string `gorm:"index" json:"name"`
	Value     int    `json:"value"`
	Data      string `json:"data"`
}

func stress(ctx context.Context, rng *rand.Rand, db *gorm.DB, weights []float64) error {
	actions := []string{
		"insert",
		"update",
		"delete",
		"select",
		"bulk",
	}
	action := PickRand(rng, actions, weights)
	switch action {
	case "insert":
		now := time.Now().Format(time.RFC3339)
		record := Record{
			CreatedAt: now,
			UpdatedAt: now,
			Name:      fmt.Sprintf("record_%d", rng.Int63()),
			Value:     rng.Intn(10000),
			Data:      StringRand(rng, 100),
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error { return tx.Create(&record).Error })
	case "update":
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var record Record
			if err := tx.First(&record, rng.Intn(100000)+1).Error; err != nil {
				return err
			}
			record.Value = rng.Intn(10000)
			record.Data = StringRand(rng, 100)
			record.UpdatedAt = time.Now().Format(time.RFC3339)
			return tx.Save(&record).Error
		})
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return nil
	case "delete":
		id := rng.Intn(100000)
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Delete(&Record{}, id)
			return result.Error
		})
	case "select":
		ids := make([]int, 10)
		for i := range ids {
			ids[i] = rng.Intn(100000) + 1
		}
		var records []Record
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Find(&records, ids).Error
		})
	case "bulk":
		count := 100
		records := make([]Record, count)
		now := time.Now().Format(time.RFC3339)
		for i := 0; i < count; i++ {
			records[i] = Record{
				CreatedAt: now,
				UpdatedAt: now,
				Name:      fmt.Sprintf("bulk_%d_%d", time.Now().UnixNano(), i),
				Value:     rng.Intn(10000),
				Data:      StringRand(rng, 100),
			}
		}
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(&records).Error
		})
	default:
		return nil
	}
}

func FuzzStress(f *testing.F) {
	if err := InitLibrary(); err != nil {
		f.Skipf("native engine library unavailable: %v", err)
	}
	f.Add(int64(42), uint(2), uint(8), uint(1), uint(1), uint(1), uint(1), uint(1))
	f.Fuzz(runStress)
}

func TestStressSmoke(t *testing.T) {
	requireNativeLibrary(t)
	runStress(t, 1, 2, 8, 2, 1, 1, 2, 1)
}

func runStress(
	t *testing.T,
	seed int64,
	workers uint,
	iterations uint,
	insertW uint,
	updateW uint,
	deleteW uint,
	selectW uint,
	bulkW uint,
) {
	weights := []float64{
		float64(insertW),
		float64(updateW),
		float64(deleteW),
		float64(selectW),
		float64(bulkW),
	}
	workers = min(workers, 8)
	iterations = min(iterations, 32)

	rng := rand.New(rand.NewSource(seed))
	workerRngs := make([]*rand.Rand, 0, workers)
	for i := 0; i < int(workers); i++ {
		workerRngs = append(workerRngs, rand.New(rand.NewSource(rng.Int63())))
	}

	dbDir := t.TempDir()
	dbPath := path.Join(dbDir, "local.db")
	dsn := dbPath + "?_busy_timeout=5000"

	dialector := sqlite.Dialector{DriverName: "strata", DSN: dsn}

	err := Setup(StrataConfig{
		Logger: func(log StrataLog) {
			t.Logf(
				"%v [%v]: %v: %v::%v: %v",
				log.Level,
				time.Unix(int64(log.Timestamp), 0),
				log.Target,
				log.File,
				log.Line,
				log.Message,
			)
		},
		LogLevel: "info",
	})
	require.Nil(t, err)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.Nil(t, err)

	sqlDB, err := db.DB()
	require.Nil(t, err)
	defer sqlDB.Close()
	// Each worker drives its own pooled connection with its own statement cache.
	sqlDB.SetMaxOpenConns(int(workers))

	err = db.AutoMigrate(&Record{})
	require.Nil(t, err)

	var wg sync.WaitGroup
	for i := 0; i < int(workers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := 0; s < int(iterations); s++ {
				if err := stress(t.Context(), workerRngs[i], db, weights); err != nil {
					t.Errorf("worker#%v: query=%v failed: %v", i, s, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func PickRand[T any](rng *rand.Rand, values []T, weights []float64) T {
	sum := 0.0
	for _, w := range weights {
		sum += math.Max(math.Abs(w), 0.0001)
	}
	value := rng.Float64() * sum
	for i := range values {
		value -= math.Max(math.Abs(weights[i]), 0.0001)
		if value < 0 {
			return values[i]
		}
	}
	return values[len(values)-1]
}

func StringRand(rng *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
