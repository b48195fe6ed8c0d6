// Package gdrive uploads exported transcripts to a Google Drive folder.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

type Syncer struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string, opts ...option.ClientOption) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithCredentials(config)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newSyncer(svc, folderID), nil
}

func newSyncer(svc *drive.Service, folderID string) *Syncer {
	return &Syncer{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}
}

// DocName is the Drive document name for an identity's transcript.
func DocName(identity string) string {
	return "jarvis-chat-" + identity
}

// Sync uploads localPath as the transcript document for identity, updating
// the existing document when there is one.
func (s *Syncer) Sync(localPath, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := DocName(identity)

	fileID, ok := s.fileIDs[identity]
	if !ok {
		fileID, err = s.find(name)
		if err != nil {
			return err
		}
	}

	if fileID != "" {
		_, err = s.service.Files.Update(fileID, &drive.File{}).Media(f).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		s.fileIDs[identity] = fileID
		return nil
	}

	doc, err := s.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: docMimeType,
		Parents:  []string{s.folderID},
	}).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	s.fileIDs[identity] = doc.Id
	return nil
}

// find looks up a document left by a previous run.
func (s *Syncer) find(name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), escapeQuery(s.folderID))
	list, err := s.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Do()
	if err != nil {
		return "", fmt.Errorf("drive list: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
