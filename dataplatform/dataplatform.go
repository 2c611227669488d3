package dataplatform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cepro/gpio2mqtt/repository"
	"github.com/cepro/gpio2mqtt/telemetry"
)

// uploadChunkLimit defines how many measurements we upload in one supabase HTTP request
const uploadChunkLimit = 100

// Uploader is implemented by supabase.Client
type Uploader interface {
	Upload(table string, rows interface{}) error
}

// DataPlatform handles the streaming of measurements to Supabase.
// Recorded measurements are bufferred on disk in a SQLite database before being uploaded.
type DataPlatform struct {
	measurements chan telemetry.Measurement

	repository     *repository.Repository
	uploader       Uploader
	table          string
	uploadInterval time.Duration
	logger         *slog.Logger
}

func New(uploader Uploader, table string, bufferRepositoryFilename string, uploadInterval time.Duration) (*DataPlatform, error) {

	repository, err := repository.New(bufferRepositoryFilename)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}

	return &DataPlatform{
		measurements:   make(chan telemetry.Measurement, 25), // a small buffer to allow SQLite to catch up in case the disk is slow
		repository:     repository,
		uploader:       uploader,
		table:          table,
		uploadInterval: uploadInterval,
		logger:         slog.Default().With("component", "dataplatform", "db_table", table),
	}, nil
}

// Record queues the measurement for storage. It never blocks: if the buffer is full the measurement is dropped.
func (d *DataPlatform) Record(m telemetry.Measurement) {
	select {
	case d.measurements <- m:
	default:
		d.logger.Warn("Dropped measurement, buffer is full", "reading_id", m.ID)
	}
}

// Run loops waiting for measurements to store and periodically uploads the stored measurements.
func (d *DataPlatform) Run(ctx context.Context) {

	uploadTicker := time.NewTicker(d.uploadInterval)
	defer uploadTicker.Stop()
	defer d.repository.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.measurements:
			d.store(m)
		case <-uploadTicker.C:
			d.attemptUpload()
		}
	}
}

func (d *DataPlatform) store(m telemetry.Measurement) {
	err := d.repository.AddMeasurement(m)
	if err != nil {
		d.logger.Error("Failed to persist measurement", "error", err)
		return
	}
	d.logger.Debug("Stored measurement", "reading_id", m.ID)
}

// attemptUpload attempts to upload the stored measurements into Supabase.
func (d *DataPlatform) attemptUpload() {

	// first attempt to upload any new measurements that have not been seen before
	fresh, err := d.repository.GetMeasurements(uploadChunkLimit, true)
	if err != nil {
		d.logger.Error("Failed to query fresh measurements", "error", err)
	} else if len(fresh) > 0 {
		err = d.handleMeasurements(fresh)
		if err != nil {
			d.logger.Error("Failed to handle fresh measurements", "error", err)
		}
	}

	// then attempt to upload any old measurements that have already failed an upload at least once
	old, err := d.repository.GetMeasurements(uploadChunkLimit, false)
	if err != nil {
		d.logger.Error("Failed to query old measurements", "error", err)
	} else if len(old) > 0 {
		err = d.handleMeasurements(old)
		if err != nil {
			d.logger.Error("Failed to handle old measurements", "error", err)
		}
	}
}

// handleMeasurements attempts to upload the given measurements. If successfull, it deletes them from the database, if
// unsuccessful, it increments the 'upload attempt count' column and leaves them in the database for another time.
func (d *DataPlatform) handleMeasurements(measurements []repository.StoredMeasurement) error {

	uploadErr := d.uploader.Upload(d.table, convertMeasurements(measurements))
	if uploadErr != nil {
		uploadErr := fmt.Errorf("upload failed: %w", uploadErr)
		errInc := d.repository.IncrementUploadAttemptCount(measurements)
		if errInc != nil {
			return fmt.Errorf("%w: increment upload attempt count: %w", uploadErr, errInc)
		}
		return uploadErr
	}

	deleteErr := d.repository.DeleteMeasurements(measurements)
	if deleteErr != nil {
		return fmt.Errorf("delete %d measurements: %w", len(measurements), deleteErr)
	}

	d.logger.Info("Uploaded measurements", "db_records", len(measurements))

	return nil
}
