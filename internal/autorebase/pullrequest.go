package autorebase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// PullRequestID identifies a pull request.
type PullRequestID struct {
	Owner      string
	Repository string
	Number     int
}

func NewPullRequestID(repo Repository, number int) PullRequestID {
	return PullRequestID{
		Owner:      repo.Owner,
		Repository: repo.Name,
		Number:     number,
	}
}

func (id PullRequestID) Repo() Repository {
	return Repository{Owner: id.Owner, Name: id.Repository}
}

func (id PullRequestID) String() string {
	return fmt.Sprintf("%s/%s#%d", id.Owner, id.Repository, id.Number)
}

func (id PullRequestID) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(id.Owner),
		logfields.Repository(id.Repository),
		logfields.PullRequest(id.Number),
	}
}
