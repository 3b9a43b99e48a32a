package presence

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Comment threads are append-only per (review_id, file_id, column_id) per
// spec §4.10. Editing is restricted to the comment's author, deletion to
// the review owner, and resolution toggling to anyone with review access.
var (
	ErrCommentNotFound = errors.New("presence: comment not found")
	ErrNotAuthor       = errors.New("presence: only the comment author may edit it")
	ErrNotOwner        = errors.New("presence: only the review owner may delete a comment")
)

// Comment is one entry in a cell's discussion thread.
type Comment struct {
	ID       string    `json:"id"`
	ReviewID string    `json:"review_id"`
	FileID   string    `json:"file_id"`
	ColumnID string    `json:"column_id"`
	AuthorID string    `json:"author_id"`
	Text     string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func threadKey(reviewID, fileID, columnID string) string {
	return reviewID + "/" + fileID + "/" + columnID
}

// CommentStore holds in-process comment threads. It is an append-only log
// per thread; Edit mutates a comment's text in place (its history is not
// retained separately, mirroring a normal chat-style thread) while
// Resolve/Unresolve flip a state flag rather than appending a new entry.
type CommentStore struct {
	mu      sync.Mutex
	seq     int
	threads map[string][]*Comment
	byID    map[string]*Comment
}

func NewCommentStore() *CommentStore {
	return &CommentStore{
		threads: make(map[string][]*Comment),
		byID:    make(map[string]*Comment),
	}
}

// Add appends a new comment to a thread and returns it.
func (s *CommentStore) Add(reviewID, fileID, columnID, authorID, text string) *Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := &Comment{
		ID:        fmt.Sprintf("cmt-%06d", s.seq),
		ReviewID:  reviewID,
		FileID:    fileID,
		ColumnID:  columnID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	key := threadKey(reviewID, fileID, columnID)
	s.threads[key] = append(s.threads[key], c)
	s.byID[c.ID] = c
	return c
}

// Thread returns the comments for a cell in creation order.
func (s *CommentStore) Thread(reviewID, fileID, columnID string) []*Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Comment(nil), s.threads[threadKey(reviewID, fileID, columnID)]...)
}

// Edit updates a comment's text. Only the original author may edit.
func (s *CommentStore) Edit(commentID, editorID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[commentID]
	if !ok {
		return ErrCommentNotFound
	}
	if c.AuthorID != editorID {
		return ErrNotAuthor
	}
	c.Text = text
	now := time.Now()
	c.EditedAt = &now
	return nil
}

// Delete removes a comment from its thread. Only the review owner may
// delete a comment, regardless of who authored it.
func (s *CommentStore) Delete(commentID, requesterID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[commentID]
	if !ok {
		return ErrCommentNotFound
	}
	if requesterID != ownerID {
		return ErrNotOwner
	}
	key := threadKey(c.ReviewID, c.FileID, c.ColumnID)
	thread := s.threads[key]
	for i, existing := range thread {
		if existing.ID == commentID {
			s.threads[key] = append(thread[:i], thread[i+1:]...)
			break
		}
	}
	delete(s.byID, commentID)
	return nil
}

// Resolve marks a comment resolved. Any reviewer with access to the
// review may resolve or unresolve; the caller is responsible for having
// already checked that access. Idempotent.
func (s *CommentStore) Resolve(commentID, userID string) error {
	return s.setResolved(commentID, userID, true)
}

// Unresolve reopens a previously resolved comment. Idempotent.
func (s *CommentStore) Unresolve(commentID, userID string) error {
	return s.setResolved(commentID, userID, false)
}

func (s *CommentStore) setResolved(commentID, userID string, resolved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[commentID]
	if !ok {
		return ErrCommentNotFound
	}
	c.Resolved = resolved
	if resolved {
		c.ResolvedBy = userID
		now := time.Now()
		c.ResolvedAt = &now
	} else {
		c.ResolvedBy = ""
		c.ResolvedAt = nil
	}
	return nil
}
