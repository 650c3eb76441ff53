package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkFrontQuarter       BookmarkType = "front_quarter"
	BookmarkFrontHalf          BookmarkType = "front_half"
	BookmarkFrontThreeQuarters BookmarkType = "front_three_quarters"
	BookmarkFrontEnd           BookmarkType = "front_end"
	BookmarkFrontStalled       BookmarkType = "front_stalled"
	BookmarkPopulationCrash    BookmarkType = "population_crash"
	BookmarkExtinction         BookmarkType = "extinction"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Time        float64      `csv:"sim_time"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"sim_time", b.Time,
		"description", b.Description,
	)
}

type milestone struct {
	kind BookmarkType
	site int
	name string
}

// BookmarkDetector detects colonization milestones and population events.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	milestones    []milestone
	nextMilestone int

	crashFraction float64
	recentPeak    int
	stalled       bool
	extinct       bool
}

// NewBookmarkDetector creates a detector for a lattice of the given length.
// crashFraction is the drop from the recent peak that counts as a crash.
func NewBookmarkDetector(historySize, length int, crashFraction float64) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3
	}
	if crashFraction <= 0 || crashFraction >= 1 {
		crashFraction = 0.5
	}
	last := max(length-1, 0)
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		milestones: []milestone{
			{BookmarkFrontQuarter, last / 4, "a quarter"},
			{BookmarkFrontHalf, last / 2, "half"},
			{BookmarkFrontThreeQuarters, 3 * last / 4, "three quarters"},
			{BookmarkFrontEnd, last, "the end"},
		},
		crashFraction: crashFraction,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	bookmarks = append(bookmarks, bd.checkMilestones(stats)...)

	if b := bd.checkFrontStalled(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if b := bd.checkCrash(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if b := bd.checkExtinction(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)

	if stats.Population > bd.recentPeak {
		bd.recentPeak = stats.Population
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkMilestones(stats WindowStats) []Bookmark {
	var out []Bookmark
	for bd.nextMilestone < len(bd.milestones) {
		m := bd.milestones[bd.nextMilestone]
		if stats.Front < m.site {
			break
		}
		out = append(out, Bookmark{
			Type:        m.kind,
			Time:        stats.WindowEnd,
			Description: fmt.Sprintf("Front reached %s of the lattice (site %d)", m.name, stats.Front),
		})
		bd.nextMilestone++
	}
	return out
}

// checkFrontStalled fires once when the front has not moved over a full
// history while the population survives short of the last milestone.
func (bd *BookmarkDetector) checkFrontStalled(stats WindowStats) *Bookmark {
	if stats.Population == 0 || bd.nextMilestone >= len(bd.milestones) {
		return nil
	}

	history := bd.getHistory()
	if len(history) < bd.historySize {
		return nil
	}
	for _, h := range history {
		if h.Front != stats.Front {
			bd.stalled = false
			return nil
		}
	}
	if bd.stalled {
		return nil
	}
	bd.stalled = true
	return &Bookmark{
		Type:        BookmarkFrontStalled,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("Front stuck at site %d since t=%.2f", stats.Front, history[bd.historyIdx].WindowEnd),
	}
}

func (bd *BookmarkDetector) checkCrash(stats WindowStats) *Bookmark {
	if bd.recentPeak == 0 || stats.Population == 0 {
		return nil
	}

	drop := 1.0 - float64(stats.Population)/float64(bd.recentPeak)
	if drop <= bd.crashFraction {
		return nil
	}

	// Reset peak after crash
	oldPeak := bd.recentPeak
	bd.recentPeak = stats.Population

	return &Bookmark{
		Type:        BookmarkPopulationCrash,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("Population crashed %.0f%% from peak %d to %d", drop*100, oldPeak, stats.Population),
	}
}

func (bd *BookmarkDetector) checkExtinction(stats WindowStats) *Bookmark {
	if bd.extinct || stats.Population > 0 {
		return nil
	}
	bd.extinct = true
	return &Bookmark{
		Type:        BookmarkExtinction,
		Time:        stats.WindowEnd,
		Description: fmt.Sprintf("Population extinct (peak %d)", bd.recentPeak),
	}
}
