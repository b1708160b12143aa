package boss

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const header = "編號,章節,名稱,英文,地點,需要主線,等級,屬性,物理防禦,魔法防禦,物理抗性,魔法抗性,迴避,抗暴,慣性變動率,控制,階段/模式,限傷,破位效果,注意,img_url\n"

const sample = header +
	"1,1,哥布林王,Goblin King,礦坑,否,10,地,100,80,0%,5%,50,10,100%,,,,,,https://img/1.png\n" +
	"2.0,2,巨石像,Golem,遺跡,是,25,地,300,200,10%,0%,20,5,50%,暈眩,兩階段,,破甲,小心落石,https://img/2.png\n" +
	",,,,,,,,,,,,,,,,,,,,\n" +
	"備註,,說明列,,,,,,,,,,,,,,,,,,\n" +
	"3,5,炎龍,Fire Dragon,火山,是,60,火,500,400,20%,20%,80,30,30%,,,99999,,,https://img/3.png\n"

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Bosses) != 3 {
		t.Fatalf("got %d bosses, want 3", len(c.Bosses))
	}

	golem := c.Bosses[1]
	if golem.No != "2" {
		t.Errorf("No = %q, want %q", golem.No, "2")
	}
	if golem.Chapter != 2 {
		t.Errorf("Chapter = %d, want 2", golem.Chapter)
	}
	if golem.English != "Golem" || golem.Control != "暈眩" || golem.Phase != "兩階段" ||
		golem.BreakEffect != "破甲" || golem.Notice != "小心落石" || golem.ImageURL != "https://img/2.png" {
		t.Errorf("golem = %+v", golem)
	}
	if c.Bosses[0].Control != "" {
		t.Errorf("blank optional column = %q, want empty", c.Bosses[0].Control)
	}
}

func TestParse_BOM(t *testing.T) {
	c, err := Parse(strings.NewReader("\ufeff" + sample))
	if err != nil {
		t.Fatalf("Parse with BOM: %v", err)
	}
	if len(c.Bosses) != 3 {
		t.Errorf("got %d bosses, want 3", len(c.Bosses))
	}
}

func TestParse_MissingOptionalColumns(t *testing.T) {
	c, err := Parse(strings.NewReader("編號,章節,名稱\n7,3,史萊姆\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b := c.Bosses[0]
	if b.No != "7" || b.Chapter != 3 || b.Name != "史萊姆" || b.English != "" {
		t.Errorf("boss = %+v", b)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, in string
	}{
		{"empty", ""},
		{"no id column", "章節,名稱\n1,史萊姆\n"},
		{"no numeric ids", header + "備註,,x,,,,,,,,,,,,,,,,,,\n"},
		{"header only", header},
		{"bad chapter", header + "1,一,哥布林王,,,,,,,,,,,,,,,,,,\n"},
		{"blank chapter", header + "1,,哥布林王,,,,,,,,,,,,,,,,,,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.in))
			if !errors.Is(err, ErrNoData) {
				t.Errorf("error = %v, want ErrNoData", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Bosses) != 3 {
		t.Errorf("got %d bosses", len(c.Bosses))
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), FileName))
	if !errors.Is(err, ErrNoData) {
		t.Errorf("error = %v, want ErrNoData", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want it to wrap os.ErrNotExist", err)
	}
}

func TestInChapters(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}

	got := c.InChapters(1, 3)
	if len(got) != 2 || got[0].Name != "哥布林王" || got[1].Name != "巨石像" {
		t.Errorf("InChapters(1, 3) = %+v", got)
	}
	if got := c.InChapters(4, 6); len(got) != 1 || got[0].Name != "炎龍" {
		t.Errorf("InChapters(4, 6) = %+v", got)
	}
	if got := c.InChapters(13, 15); len(got) != 0 {
		t.Errorf("InChapters(13, 15) = %+v, want none", got)
	}
}

func TestByName(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	b, ok := c.ByName("炎龍")
	if !ok || b.No != "3" || b.DamageLimit != "99999" {
		t.Errorf("ByName = %+v, %v", b, ok)
	}
	if _, ok := c.ByName("不存在"); ok {
		t.Error("ByName found a missing boss")
	}
}

func TestChapterRanges(t *testing.T) {
	want := []string{"1-3", "4-6", "7-9", "10-12", "13-15"}
	if len(ChapterRanges) != len(want) {
		t.Fatalf("got %d ranges", len(ChapterRanges))
	}
	for i, r := range ChapterRanges {
		if r.Value() != want[i] {
			t.Errorf("range %d = %q, want %q", i, r.Value(), want[i])
		}
		if r.Label() != want[i]+"章節" {
			t.Errorf("label %d = %q", i, r.Label())
		}
		parsed, err := ParseRange(r.Value())
		if err != nil || parsed != r {
			t.Errorf("ParseRange(%q) = %+v, %v", r.Value(), parsed, err)
		}
	}
}

func TestParseRange_Invalid(t *testing.T) {
	for _, in := range []string{"", "3", "a-b", "1-x", "6-4"} {
		if _, err := ParseRange(in); err == nil {
			t.Errorf("ParseRange(%q) succeeded, want error", in)
		}
	}
}
