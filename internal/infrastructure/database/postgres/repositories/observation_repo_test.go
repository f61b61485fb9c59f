package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/ChargeAssign/internal/domain/candidate"
	"github.com/turtacn/ChargeAssign/internal/domain/molecule"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/database/postgres"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/ChargeAssign/pkg/errors"
)

type copyCall struct {
	table   pgx.Identifier
	columns []string
	rows    [][]interface{}
}

type fakeCopier struct {
	calls []copyCall
	err   error
}

func (f *fakeCopier) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	call := copyCall{table: table, columns: columns}
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		call.rows = append(call.rows, vals)
	}
	f.calls = append(f.calls, call)
	return int64(len(call.rows)), nil
}

type ObservationRepoTestSuite struct {
	suite.Suite
	db     *sql.DB
	mock   sqlmock.Sqlmock
	copier *fakeCopier
	repo   *ObservationRepo
}

func (s *ObservationRepoTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	require.NoError(s.T(), err)

	log := logging.NewNopLogger()
	s.copier = &fakeCopier{}
	s.repo = NewObservationRepo(postgres.NewConnectionWithDB(s.db, log), s.copier, log)
}

func (s *ObservationRepoTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func sampleDataset() *candidate.Dataset {
	d := candidate.NewDataset(1, 2)
	d.Oracle = "refine/1"
	d.Add(molecule.ModeIACM, 2, "b", candidate.Observation{Charge: -0.8, MoleculeID: 1, Atom: "2"})
	d.Add(molecule.ModeIACM, 1, "a", candidate.Observation{Charge: 0.4, MoleculeID: 1, Atom: "1"})
	d.Add(molecule.ModeElement, 1, "c", candidate.Observation{Charge: 0.4, MoleculeID: 5, Atom: "1"})
	d.SetIsomorphs(molecule.ModeElement, [][]int{{5, 1}})
	return d
}

func (s *ObservationRepoTestSuite) expectReset() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM charge_observations").WillReturnResult(sqlmock.NewResult(0, 4))
	s.mock.ExpectExec("DELETE FROM charge_isomorphs").WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec("INSERT INTO charge_repository_meta").
		WithArgs(1, 2, "refine/1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()
}

func (s *ObservationRepoTestSuite) TestImport() {
	s.expectReset()

	n, err := s.repo.Import(context.Background(), sampleDataset())
	s.Require().NoError(err)
	s.Equal(int64(3), n)
	s.Require().Len(s.copier.calls, 2)

	obs := s.copier.calls[0]
	s.Equal(pgx.Identifier{"charge_observations"}, obs.table)
	s.Equal(observationColumns, obs.columns)
	s.Equal([][]interface{}{
		{"elem", 1, "c", 0.4, 5, "1"},
		{"iacm", 1, "a", 0.4, 1, "1"},
		{"iacm", 2, "b", -0.8, 1, "2"},
	}, obs.rows)

	iso := s.copier.calls[1]
	s.Equal(pgx.Identifier{"charge_isomorphs"}, iso.table)
	s.Equal([][]interface{}{
		{"elem", 1, 1},
		{"elem", 1, 5},
	}, iso.rows)
}

func (s *ObservationRepoTestSuite) TestImport_CopyFailure() {
	s.expectReset()
	s.copier.err = errors.New("copy aborted")

	_, err := s.repo.Import(context.Background(), sampleDataset())
	s.True(apperrors.IsCode(err, apperrors.ErrCodeDatabaseError))
}

func (s *ObservationRepoTestSuite) TestImport_ResetRollsBack() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec("DELETE FROM charge_observations").WillReturnError(errors.New("locked"))
	s.mock.ExpectRollback()

	_, err := s.repo.Import(context.Background(), sampleDataset())
	s.Error(err)
	s.Empty(s.copier.calls)
}

func (s *ObservationRepoTestSuite) TestImport_ReadOnly() {
	repo := NewObservationRepo(postgres.NewConnectionWithDB(s.db, logging.NewNopLogger()), nil, logging.NewNopLogger())
	_, err := repo.Import(context.Background(), sampleDataset())
	s.Error(err)
}

func (s *ObservationRepoTestSuite) TestLoad() {
	s.mock.ExpectQuery("SELECT min_shell, max_shell, oracle FROM charge_repository_meta").
		WillReturnRows(sqlmock.NewRows([]string{"min_shell", "max_shell", "oracle"}).AddRow(1, 2, "refine/1"))
	s.mock.ExpectQuery("SELECT mode, shell, signature, charge, molecule_id, atom FROM charge_observations").
		WillReturnRows(sqlmock.NewRows(observationColumns).
			AddRow("iacm", 1, "a", 0.4, 1, "1").
			AddRow("iacm", 2, "b", -0.8, 1, "2").
			AddRow("elem", 1, "c", 0.4, 5, "1"))
	s.mock.ExpectQuery("SELECT mode, group_id, molecule_id FROM charge_isomorphs").
		WillReturnRows(sqlmock.NewRows(isomorphColumns).
			AddRow("elem", 1, 1).
			AddRow("elem", 1, 5))

	d, err := s.repo.Load(context.Background())
	s.Require().NoError(err)
	want := sampleDataset()
	s.Equal(want.Oracle, d.Oracle)
	s.Equal(want.MinShell, d.MinShell)
	s.Equal(want.MaxShell, d.MaxShell)
	s.Equal(want.Charges, d.Charges)
	s.Equal(want.Isomorphs, d.Isomorphs)
}

func (s *ObservationRepoTestSuite) TestLoad_NothingImported() {
	s.mock.ExpectQuery("SELECT min_shell, max_shell, oracle FROM charge_repository_meta").
		WillReturnRows(sqlmock.NewRows([]string{"min_shell", "max_shell", "oracle"}))

	_, err := s.repo.Load(context.Background())
	s.True(apperrors.IsCode(err, apperrors.ErrCodeRepositoryUnavailable))
}

func (s *ObservationRepoTestSuite) TestLoad_UnknownMode() {
	s.mock.ExpectQuery("SELECT min_shell, max_shell, oracle FROM charge_repository_meta").
		WillReturnRows(sqlmock.NewRows([]string{"min_shell", "max_shell", "oracle"}).AddRow(1, 1, ""))
	s.mock.ExpectQuery("SELECT mode, shell").
		WillReturnRows(sqlmock.NewRows(observationColumns).AddRow("smiles", 1, "a", 0.1, 1, "1"))

	_, err := s.repo.Load(context.Background())
	s.True(apperrors.IsCode(err, apperrors.ErrCodeDatabaseError))
}

func (s *ObservationRepoTestSuite) TestDeleteMolecule() {
	s.mock.ExpectExec("DELETE FROM charge_observations WHERE molecule_id").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := s.repo.DeleteMolecule(context.Background(), 7)
	s.NoError(err)
	s.Equal(int64(12), n)
}

func (s *ObservationRepoTestSuite) TestCount() {
	s.mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.repo.Count(context.Background())
	s.NoError(err)
	s.Equal(int64(42), n)
}

func TestObservationRepoSuite(t *testing.T) {
	suite.Run(t, new(ObservationRepoTestSuite))
}
