package jobs

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ImportUserJobName = "importUserJob"

	// ParamSource overrides the CSV file for a single firing.
	ParamSource = "source"
)

const peopleSchema = `CREATE TABLE IF NOT EXISTS people (
    person_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    first_name TEXT NOT NULL,
    last_name  TEXT NOT NULL
)`

type Person struct {
	FirstName string
	LastName  string
}

func (p Person) String() string {
	return fmt.Sprintf("firstName: %s, lastName: %s", p.FirstName, p.LastName)
}

// ImportUserJob reads people from a CSV file, upper-cases their names and
// writes them to the people table.
type ImportUserJob struct {
	db     *sql.DB
	logger *logrus.Logger
	source string
}

func NewImportUserJob(db *sql.DB, logger *logrus.Logger, source string) *ImportUserJob {
	return &ImportUserJob{
		db:     db,
		logger: logger,
		source: source,
	}
}

func (j *ImportUserJob) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, peopleSchema); err != nil {
		return fmt.Errorf("failed to create people table: %w", err)
	}
	return nil
}

func (j *ImportUserJob) Run(ctx context.Context, params types.JobParameters) error {
	source := j.source
	if v := params[ParamSource]; v != "" {
		source = v
	}
	if source == "" {
		return errors.New("no input file configured")
	}

	people, err := j.read(source)
	if err != nil {
		return err
	}

	processed := make([]Person, 0, len(people))
	for _, p := range people {
		processed = append(processed, j.Process(p))
	}

	if err := j.write(ctx, processed); err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"source":    source,
		"count":     len(processed),
		"firing_id": params[types.ParamFiringID],
	}).Info("People imported")
	return nil
}

func (j *ImportUserJob) Process(p Person) Person {
	// A Caser is stateful, so each call gets its own.
	upper := cases.Upper(language.Und)
	transformed := Person{
		FirstName: upper.String(p.FirstName),
		LastName:  upper.String(p.LastName),
	}
	j.logger.Infof("Converting (%s) into (%s)", p, transformed)
	return transformed
}

func (j *ImportUserJob) read(path string) ([]Person, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return ReadPeople(f)
}

// ReadPeople parses first_name,last_name records. A header row is skipped.
func ReadPeople(r io.Reader) ([]Person, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true

	var people []Person
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid people record: %w", err)
		}

		if line == 1 && strings.EqualFold(record[0], "first_name") {
			continue
		}
		people = append(people, Person{
			FirstName: strings.TrimSpace(record[0]),
			LastName:  strings.TrimSpace(record[1]),
		})
	}
	return people, nil
}

func (j *ImportUserJob) write(ctx context.Context, people []Person) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, p := range people {
		if _, err := tx.ExecContext(ctx, `INSERT INTO people (first_name, last_name) VALUES (?, ?)`, p.FirstName, p.LastName); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit people: %w", err)
	}
	return nil
}
