package boss

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// FileName is the catalog file inside the data directory.
const FileName = "boss.csv"

// ErrNoData means the catalog file is missing, unreadable or has no usable rows.
var ErrNoData = errors.New("no boss data")

// Column headers.
const (
	colNo          = "編號"
	colChapter     = "章節"
	colName        = "名稱"
	colEnglish     = "英文"
	colLocation    = "地點"
	colMainQuest   = "需要主線"
	colLevel       = "等級"
	colElement     = "屬性"
	colPDef        = "物理防禦"
	colMDef        = "魔法防禦"
	colPRes        = "物理抗性"
	colMRes        = "魔法抗性"
	colFlee        = "迴避"
	colCritRes     = "抗暴"
	colProration   = "慣性變動率"
	colControl     = "控制"
	colPhase       = "階段/模式"
	colDamageLimit = "限傷"
	colBreak       = "破位效果"
	colNotice      = "注意"
	colImage       = "img_url"
)

// Boss is one catalog row. Stat columns are kept as the sheet writes them.
type Boss struct {
	No          string `json:"no"`
	Chapter     int    `json:"chapter"`
	Name        string `json:"name"`
	English     string `json:"english"`
	Location    string `json:"location"`
	MainQuest   string `json:"main_quest"`
	Level       string `json:"level"`
	Element     string `json:"element"`
	PDef        string `json:"p_def"`
	MDef        string `json:"m_def"`
	PRes        string `json:"p_res"`
	MRes        string `json:"m_res"`
	Flee        string `json:"flee"`
	CritRes     string `json:"crit_res"`
	Proration   string `json:"proration"`
	Control     string `json:"control,omitempty"`
	Phase       string `json:"phase,omitempty"`
	DamageLimit string `json:"damage_limit,omitempty"`
	BreakEffect string `json:"break_effect,omitempty"`
	Notice      string `json:"notice,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Catalog is the ordered list of bosses read from the sheet.
type Catalog struct {
	Bosses []Boss
}

// Load reads the catalog at path. Any failure is reported as ErrNoData
// wrapping the cause.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads a catalog from r. Rows whose 編號 is not a number are skipped;
// a kept row with a non-numeric 章節 fails the whole parse.
func Parse(r io.Reader) (*Catalog, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrNoData, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	if _, ok := index[colNo]; !ok {
		return nil, fmt.Errorf("%w: missing %s column", ErrNoData, colNo)
	}

	var bosses []Boss
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoData, err)
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		no, ok := parseInt(get(colNo))
		if !ok {
			continue
		}
		chapter, ok := parseInt(get(colChapter))
		if !ok {
			return nil, fmt.Errorf("%w: line %d: invalid %s %q", ErrNoData, line, colChapter, get(colChapter))
		}

		bosses = append(bosses, Boss{
			No:          strconv.Itoa(no),
			Chapter:     chapter,
			Name:        get(colName),
			English:     get(colEnglish),
			Location:    get(colLocation),
			MainQuest:   get(colMainQuest),
			Level:       get(colLevel),
			Element:     get(colElement),
			PDef:        get(colPDef),
			MDef:        get(colMDef),
			PRes:        get(colPRes),
			MRes:        get(colMRes),
			Flee:        get(colFlee),
			CritRes:     get(colCritRes),
			Proration:   get(colProration),
			Control:     get(colControl),
			Phase:       get(colPhase),
			DamageLimit: get(colDamageLimit),
			BreakEffect: get(colBreak),
			Notice:      get(colNotice),
			ImageURL:    get(colImage),
		})
	}

	if len(bosses) == 0 {
		return nil, fmt.Errorf("%w: no rows with a numeric %s", ErrNoData, colNo)
	}
	return &Catalog{Bosses: bosses}, nil
}

// parseInt accepts integers and integral-looking floats such as "3.0".
// Fractions are truncated.
func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// InChapters returns bosses with lo <= Chapter <= hi in sheet order.
func (c *Catalog) InChapters(lo, hi int) []Boss {
	var out []Boss
	for _, b := range c.Bosses {
		if b.Chapter >= lo && b.Chapter <= hi {
			out = append(out, b)
		}
	}
	return out
}

// ByName returns the first boss named name.
func (c *Catalog) ByName(name string) (Boss, bool) {
	for _, b := range c.Bosses {
		if b.Name == name {
			return b, true
		}
	}
	return Boss{}, false
}
