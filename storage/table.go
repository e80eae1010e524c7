package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskmaster/domain"
)

const edmInt64 = "Edm.Int64"

// TableStore keeps tasks in an Azure Storage table, one partition per board.
type TableStore struct {
	taskTable *aztables.Client
	boardID   string
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable, boardID string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	if boardID == "" {
		boardID = "default"
	}
	return &TableStore{taskTable: svc.NewClient(tasksTable), boardID: boardID}, nil
}

// EnsureTable creates the tasks table if it does not exist yet.
func (s *TableStore) EnsureTable(ctx context.Context) error {
	_, err := s.taskTable.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

// entityKeys are the table keys: the board id and the task id.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	Category      string `json:"Category"`
	DueDate       string `json:"DueDate,omitempty"`
	Links         string `json:"Links,omitempty"`
	CoverImage    string `json:"CoverImage,omitempty"`
	AISummary     string `json:"AiSummary,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// taskUpdate carries a merge-mode partial update.
type taskUpdate struct {
	entityKeys
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	Status        *string `json:"Status,omitempty"`
	Priority      *string `json:"Priority,omitempty"`
	Category      *string `json:"Category,omitempty"`
	DueDate       *string `json:"DueDate,omitempty"`
	Links         *string `json:"Links,omitempty"`
	CoverImage    *string `json:"CoverImage,omitempty"`
	AISummary     *string `json:"AiSummary,omitempty"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

func toEntity(boardID string, t domain.Task) (taskEntity, error) {
	ent := taskEntity{
		entityKeys:    entityKeys{PartitionKey: boardID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Category:      t.Category,
		CoverImage:    t.CoverImage,
		AISummary:     t.AISummary,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if t.DueDate != nil {
		ent.DueDate = *t.DueDate
	}
	if len(t.Links) > 0 {
		links, err := json.Marshal(t.Links)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Links = string(links)
	}
	return ent, nil
}

func fromEntity(ent taskEntity) (domain.Task, error) {
	t := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		Category:    ent.Category,
		CoverImage:  ent.CoverImage,
		AISummary:   ent.AISummary,
		CreatedAt:   time.Unix(0, ent.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, ent.UpdatedAt).UTC(),
	}
	if ent.DueDate != "" {
		d := ent.DueDate
		t.DueDate = &d
	}
	if ent.Links != "" {
		if err := json.Unmarshal([]byte(ent.Links), &t.Links); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func toUpdate(boardID, id string, patch domain.TaskPatch, now time.Time) (taskUpdate, error) {
	upd := taskUpdate{
		entityKeys:    entityKeys{PartitionKey: boardID, RowKey: id},
		Title:         patch.Title,
		Description:   patch.Description,
		Category:      patch.Category,
		DueDate:       patch.DueDate,
		CoverImage:    patch.CoverImage,
		AISummary:     patch.AISummary,
		UpdatedAt:     now.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	if patch.Status != nil {
		v := string(*patch.Status)
		upd.Status = &v
	}
	if patch.Priority != nil {
		v := string(*patch.Priority)
		upd.Priority = &v
	}
	if patch.Links != nil {
		links, err := json.Marshal(*patch.Links)
		if err != nil {
			return taskUpdate{}, err
		}
		v := string(links)
		upd.Links = &v
	}
	return upd, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// ListTasks retrieves every task of the board partition.
func (s *TableStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + s.boardID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			t, err := fromEntity(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *TableStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, s.boardID, id, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Task{}, domain.ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return fromEntity(ent)
}

func (s *TableStore) InsertTask(ctx context.Context, t domain.Task) error {
	ent, err := toEntity(s.boardID, t)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask merges the set fields into the stored entity.
func (s *TableStore) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch, now time.Time) error {
	upd, err := toUpdate(s.boardID, id, patch, now)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil && isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}

func (s *TableStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, s.boardID, id, nil)
	if err != nil && isNotFound(err) {
		return domain.ErrNotFound
	}
	return err
}
