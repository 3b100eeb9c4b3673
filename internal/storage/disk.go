package storage

import (
	"errors"
	"io"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrWrongBufSize  = errors.New("storage: buffer size != PageSize")
	ErrInvalidPageID = errors.New("storage: invalid page id")
)

// DiskManager is the boundary between the buffer pool and the on-disk
// store. Page ids are handed out monotonically; deallocation is advisory
// (a real free-space map sits above this layer).
type DiskManager interface {
	ReadPage(pageID PageID, buf []byte) error
	WritePage(pageID PageID, data []byte) error
	AllocatePage() PageID
	DeallocatePage(pageID PageID)
}

var _ DiskManager = (*FileDiskManager)(nil)

// FileDiskManager stores pages in a single data file at
// offset = pageID * PageSize.
type FileDiskManager struct {
	mu        sync.Mutex
	file      *os.File
	pageCount int
	next      PageID
	log       logrus.FieldLogger
}

func NewFileDiskManager(path string, log logrus.FieldLogger) (*FileDiskManager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open data file")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, pkgerrors.Wrap(err, "stat data file")
	}

	pageCount := int(info.Size()) / PageSize
	return &FileDiskManager{
		file:      file,
		pageCount: pageCount,
		next:      PageID(pageCount),
		log:       log,
	}, nil
}

// ReadPage fills buf with the page's on-disk image. Pages that were
// allocated but never written read back as zeroes.
func (d *FileDiskManager) ReadPage(pageID PageID, buf []byte) error {
	if pageID < 0 {
		return ErrInvalidPageID
	}
	if len(buf) != PageSize {
		return ErrWrongBufSize
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if int(pageID) >= d.pageCount {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}

	offset := int64(pageID) * PageSize
	if _, err := d.file.Seek(offset, io.SeekStart); err != nil {
		return pkgerrors.Wrapf(err, "seek to page %d", pageID)
	}
	if _, err := io.ReadFull(d.file, buf); err != nil {
		return pkgerrors.Wrapf(err, "read page %d", pageID)
	}
	return nil
}

func (d *FileDiskManager) WritePage(pageID PageID, data []byte) error {
	if pageID < 0 {
		return ErrInvalidPageID
	}
	if len(data) != PageSize {
		return ErrWrongBufSize
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(pageID) * PageSize
	if _, err := d.file.Seek(offset, io.SeekStart); err != nil {
		return pkgerrors.Wrapf(err, "seek to page %d", pageID)
	}
	if _, err := d.file.Write(data); err != nil {
		return pkgerrors.Wrapf(err, "write page %d", pageID)
	}

	if int(pageID) >= d.pageCount {
		d.pageCount = int(pageID) + 1
	}
	return nil
}

func (d *FileDiskManager) AllocatePage() PageID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.next
	d.next++
	return id
}

// DeallocatePage releases a page id. The file is not shrunk; the slot
// simply becomes dead space until a free-space map is layered on top.
func (d *FileDiskManager) DeallocatePage(pageID PageID) {
	d.log.WithField("page_id", pageID).Debug("deallocate page")
}

func (d *FileDiskManager) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pageCount
}

func (d *FileDiskManager) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
