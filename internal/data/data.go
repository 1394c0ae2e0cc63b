package data

import (
	"database/sql"
	"fmt"

	"github.com/nightdose/nightdose/internal/biz/repo"
)

// Repositories contains all repositories
type Repositories struct {
	DB         *sql.DB
	Session    repo.SessionRepo
	Diagnostic repo.DiagnosticRepo
	Adjunct    repo.AdjunctRepo
	Outbox     repo.OutboxRepo
	Remote     repo.RemoteRepo // nil when no sync endpoint is configured
}

// NewRepositories opens the database and creates all repositories
func NewRepositories(dbPath, syncEndpoint string, policy StoragePolicy) (*Repositories, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	sessionRepo, err := NewSessionRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	diagnosticRepo, err := NewDiagnosticRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	adjunctRepo, err := NewAdjunctRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	outboxRepo, err := NewOutboxRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	repos := &Repositories{
		DB:         db,
		Session:    NewRetryingSessionRepo(sessionRepo, policy),
		Diagnostic: NewRetryingDiagnosticRepo(diagnosticRepo, policy),
		Adjunct:    NewRetryingAdjunctRepo(adjunctRepo, policy),
		Outbox:     outboxRepo,
	}
	if syncEndpoint != "" {
		repos.Remote = NewRemoteRepo(syncEndpoint)
	}

	fmt.Println("[Data] Database initialized:", dbPath)
	return repos, nil
}

// Close closes the shared database
func (r *Repositories) Close() error {
	return r.DB.Close()
}
