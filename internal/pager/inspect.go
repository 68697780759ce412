package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ───────────────────────────────────────────────────────────────────────────
// Inspection & Verification Tools
// ───────────────────────────────────────────────────────────────────────────

// PageInfo holds inspection information about a single page.
type PageInfo struct {
	ID       PageID
	Type     PageType
	TypeStr  string
	LSN      LSN
	CRC      uint32
	CRCValid bool
	Flags    uint8
	// Region chain (ArenaHead / Overflow)
	RegionHead   PageID
	NextInRegion PageID
	DataLen      int
	// Reclaim list
	NextReclaim PageID
	EntryCount  int
}

// InspectPage reads a single page and returns detailed information.
func InspectPage(dbPath string, pageID PageID, pageSize int) (*PageInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	off := int64(pageID) * int64(pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageID, err)
	}

	hdr := UnmarshalHeader(buf)
	crcValid := VerifyPageCRC(buf) == nil

	info := &PageInfo{
		ID:       hdr.ID,
		Type:     hdr.Type,
		TypeStr:  hdr.Type.String(),
		LSN:      hdr.LSN,
		CRC:      hdr.CRC,
		CRCValid: crcValid,
		Flags:    hdr.Flags,
	}

	switch hdr.Type {
	case PageTypeArenaHead, PageTypeOverflow:
		rp := WrapRegionPage(buf)
		info.RegionHead = rp.RegionHead()
		info.NextInRegion = rp.NextInRegion()
		info.DataLen = rp.DataLen()

	case PageTypeReclaimList:
		rl := WrapReclaimPage(buf)
		info.NextReclaim = rl.NextReclaim()
		info.EntryCount = rl.EntryCount()
	}

	return info, nil
}

// VerifyDB checks the integrity of an entire database file.
// Returns a list of issues found (empty = healthy).
func VerifyDB(dbPath string) ([]string, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var issues []string

	// Read superblock and determine page size.
	sbBuf := make([]byte, MaxPageSize) // read max possible
	n, err := f.ReadAt(sbBuf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if n < MinPageSize {
		return []string{"file too small to contain a superblock"}, nil
	}

	// Peek at the page size field so we can trim the buffer to the
	// actual page size before CRC verification.
	peekPS := int(binary.LittleEndian.Uint32(sbBuf[sbPageSizeOff:]))
	if peekPS >= MinPageSize && peekPS <= MaxPageSize && peekPS <= n {
		sbBuf = sbBuf[:peekPS]
	} else {
		sbBuf = sbBuf[:n]
	}

	sb, err := UnmarshalSuperblock(sbBuf)
	if err != nil {
		return []string{fmt.Sprintf("superblock: %v", err)}, nil
	}

	pageSize := int(sb.PageSize)
	totalPages := fi.Size() / int64(pageSize)
	if fi.Size()%int64(pageSize) != 0 {
		issues = append(issues, fmt.Sprintf("file size %d not a multiple of page size %d",
			fi.Size(), pageSize))
	}

	// Check each page's CRC.
	buf := make([]byte, pageSize)
	for i := int64(0); i < totalPages; i++ {
		if _, err := f.ReadAt(buf, i*int64(pageSize)); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: read error: %v", i, err))
			continue
		}
		if err := VerifyPageCRC(buf); err != nil {
			issues = append(issues, fmt.Sprintf("page %d: %v", i, err))
		}

		// Type-specific checks.
		hdr := UnmarshalHeader(buf)
		if hdr.ID != PageID(i) && i > 0 { // superblock always has ID 0
			issues = append(issues, fmt.Sprintf("page %d: header ID mismatch (says %d)", i, hdr.ID))
		}

		// A region's head page must be self-describing: its RegionHead
		// must name itself, and every page it points to must agree about
		// whose chain it belongs to.
		if hdr.Type == PageTypeArenaHead {
			issues = append(issues, verifyRegionChain(f, pageSize, hdr.ID)...)
		}
	}

	return issues, nil
}

// verifyRegionChain walks the chain rooted at head and reports any page
// that disagrees about which region it belongs to, or a chain that does
// not terminate within the file's page count.
func verifyRegionChain(f *os.File, pageSize int, head PageID) []string {
	var issues []string
	buf := make([]byte, pageSize)
	pid := head
	visited := map[PageID]bool{}
	for pid != InvalidPageID {
		if visited[pid] {
			issues = append(issues, fmt.Sprintf("region %d: chain cycles back to page %d", head, pid))
			break
		}
		visited[pid] = true
		if _, err := f.ReadAt(buf, int64(pid)*int64(pageSize)); err != nil {
			issues = append(issues, fmt.Sprintf("region %d: read page %d: %v", head, pid, err))
			break
		}
		rp := WrapRegionPage(buf)
		if rp.RegionHead() != head {
			issues = append(issues, fmt.Sprintf("region %d: page %d reports region head %d", head, pid, rp.RegionHead()))
			break
		}
		pid = rp.NextInRegion()
	}
	return issues
}

// WALInfo holds information about a WAL file.
type WALInfo struct {
	PageSize   int
	Records    int
	MinLSN     LSN
	MaxLSN     LSN
	TxCount    int
	Committed  int
	Aborted    int
	PageImages int
}

// InspectWAL reads and summarises a WAL file.
func InspectWAL(walPath string) (*WALInfo, error) {
	records, err := ReadAllRecords(walPath)
	if err != nil {
		return nil, err
	}

	info := &WALInfo{Records: len(records)}
	txSet := make(map[TxID]bool)

	for _, rec := range records {
		if info.MinLSN == 0 || rec.LSN < info.MinLSN {
			info.MinLSN = rec.LSN
		}
		if rec.LSN > info.MaxLSN {
			info.MaxLSN = rec.LSN
		}
		txSet[rec.TxID] = true

		switch rec.Type {
		case WALRecordCommit:
			info.Committed++
		case WALRecordAbort:
			info.Aborted++
		case WALRecordPageImage:
			info.PageImages++
		}
	}
	info.TxCount = len(txSet)

	// Read page size from WAL header.
	f, err := os.Open(walPath)
	if err == nil {
		var hdr [WALFileHdrSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err == nil {
			info.PageSize = int(binary.LittleEndian.Uint32(hdr[12:16]))
		}
		f.Close()
	}

	return info, nil
}

// InspectRegionWAL summarises the WAL activity for a single allocator
// region, identified by its head PageID.
func InspectRegionWAL(walPath string, head PageID) (*WALInfo, error) {
	records, err := RecordsTouchingRegion(walPath, head)
	if err != nil {
		return nil, err
	}
	info := &WALInfo{Records: len(records), PageImages: len(records)}
	for _, rec := range records {
		if info.MinLSN == 0 || rec.LSN < info.MinLSN {
			info.MinLSN = rec.LSN
		}
		if rec.LSN > info.MaxLSN {
			info.MaxLSN = rec.LSN
		}
	}
	return info, nil
}

// SuperblockInfo holds display-friendly superblock data.
type SuperblockInfo struct {
	FormatVersion   uint32
	PageSize        uint32
	PageCount       uint64
	FeatureFlags    uint64
	RootRef         PageID
	ReclaimListRoot PageID
	CheckpointLSN   LSN
	NextTxID        TxID
	NextPageID      PageID
	Generation      uint64
	CRCValid        bool
}

// InspectSuperblock reads and returns the superblock metadata.
func InspectSuperblock(dbPath string) (*SuperblockInfo, error) {
	f, err := os.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxPageSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// Trim to actual page size before CRC check.
	if n >= int(sbPageSizeOff)+4 {
		ps := int(binary.LittleEndian.Uint32(buf[sbPageSizeOff:]))
		if ps >= MinPageSize && ps <= MaxPageSize && ps <= n {
			buf = buf[:ps]
		} else {
			buf = buf[:n]
		}
	} else {
		buf = buf[:n]
	}

	crcValid := VerifyPageCRC(buf) == nil
	sb, err := UnmarshalSuperblock(buf)
	if err != nil {
		return &SuperblockInfo{CRCValid: crcValid}, err
	}

	return &SuperblockInfo{
		FormatVersion:   sb.FormatVersion,
		PageSize:        sb.PageSize,
		PageCount:       sb.PageCount,
		FeatureFlags:    uint64(sb.FeatureFlags),
		RootRef:         sb.RootRef,
		ReclaimListRoot: sb.ReclaimListRoot,
		CheckpointLSN:   sb.CheckpointLSN,
		NextTxID:        sb.NextTxID,
		NextPageID:      sb.NextPageID,
		Generation:      sb.Generation,
		CRCValid:        crcValid,
	}, nil
}
