package taxonomy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/docsplit/internal/types"
)

func TestBuiltin(t *testing.T) {
	snap := Builtin()

	if snap.Source != SourceBuiltin {
		t.Errorf("Source = %q, want %q", snap.Source, SourceBuiltin)
	}
	if len(snap.Categories) != 13 {
		t.Fatalf("len(Categories) = %d, want 13", len(snap.Categories))
	}
	if last := snap.Categories[len(snap.Categories)-1].Name; last != "unknown" {
		t.Errorf("last category = %q, want unknown", last)
	}

	for _, b := range types.AllBuckets {
		rules := snap.RulesFor(b)
		if b == types.BucketUnknown {
			if len(rules) != 0 {
				t.Errorf("RulesFor(UNKNOWN) = %d rules, want 0", len(rules))
			}
			continue
		}
		if len(rules) == 0 {
			t.Errorf("RulesFor(%s) returned no rules", b)
		}
		for _, r := range rules {
			if r.Folder == "" {
				t.Errorf("rule %s/%s has no folder", b, r.Type)
			}
		}
	}
}

func TestBuiltin_Folders(t *testing.T) {
	snap := Builtin()
	tests := []struct {
		bucket  types.Bucket
		subtype string
		want    string
	}{
		{types.BucketIncome, "w2", "Income: W-2's"},
		{types.BucketIdentity, "passport", "Credit: Photo ID"},
		{types.BucketDisclosures, "closing_disclosure", "Closing Disclosure"},
		{types.BucketApplication, "urla_1003", "QC: 1003-URLA"},
		{types.BucketFraud, "lexis_nexis", "Fraud"},
	}
	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			got := FolderFor(snap.RulesFor(tt.bucket), tt.subtype)
			if got == nil || *got != tt.want {
				t.Errorf("FolderFor(%s) = %v, want %q", tt.subtype, got, tt.want)
			}
		})
	}

	if got := FolderFor(snap.RulesFor(types.BucketIncome), "passport"); got != nil {
		t.Errorf("FolderFor() across buckets = %q, want nil", *got)
	}
}

func TestHasSubtype(t *testing.T) {
	snap := Builtin()
	if !snap.HasSubtype(types.BucketIncome, "paystub") {
		t.Error("expected paystub to be an income subtype")
	}
	if snap.HasSubtype(types.BucketAssets, "paystub") {
		t.Error("paystub should not be an assets subtype")
	}
	if snap.HasSubtype(types.BucketUnknown, "paystub") {
		t.Error("UNKNOWN should have no subtypes")
	}
}

func TestParse_FillsMissingBucketsFromBuiltin(t *testing.T) {
	doc := `
version: custom-1
categories:
  - name: income
    description: Income docs
    subtypes:
      - type: offer_letter
        description: Employment offer letter
        folder: "Income: Offer"
  - name: assets
    description: Asset docs
`
	snap, err := Parse([]byte(doc), "test")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	income := snap.RulesFor(types.BucketIncome)
	if len(income) != 1 || income[0].Type != "offer_letter" {
		t.Errorf("RulesFor(INCOME) = %+v, want the custom rule only", income)
	}

	assets := snap.RulesFor(types.BucketAssets)
	if len(assets) != len(Builtin().RulesFor(types.BucketAssets)) {
		t.Errorf("RulesFor(ASSETS) = %d rules, want built-in fallback", len(assets))
	}

	cats := snap.SplitCategories()
	if len(cats) != 2 {
		t.Fatalf("SplitCategories() = %d, want 2", len(cats))
	}
	if cats[0].Subtypes != nil {
		t.Error("SplitCategories() should not carry subtypes")
	}
}

func TestParse_ContentAddressedID(t *testing.T) {
	doc := []byte(`{"categories":[{"name":"income","description":"x"}]}`)
	a, err := Parse(doc, "a")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, err := Parse(doc, "b")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("same content produced different IDs: %s vs %s", a.ID, b.ID)
	}

	c, err := Parse([]byte(`{"categories":[{"name":"income","description":"y"}]}`), "c")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.ID == a.ID {
		t.Error("different content produced the same ID")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no categories", `version: x`, "schema"},
		{"bad name", `categories: [{name: "Income", description: d}]`, "schema"},
		{"extra field", `categories: [{name: income, description: d, color: red}]`, "schema"},
		{"duplicate category", `categories: [{name: income, description: a}, {name: income, description: b}]`, "duplicate"},
		{"not yaml", `categories: [`, "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "test")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestStoredRoundTrip(t *testing.T) {
	snap := Builtin()
	data, err := snap.MarshalCategories()
	if err != nil {
		t.Fatalf("MarshalCategories() error = %v", err)
	}
	back, err := FromStored(snap.ID, snap.Source, data, snap.CreatedAt)
	if err != nil {
		t.Fatalf("FromStored() error = %v", err)
	}
	if len(back.Categories) != len(snap.Categories) {
		t.Errorf("categories = %d, want %d", len(back.Categories), len(snap.Categories))
	}
	if !back.HasSubtype(types.BucketTitle, "title_commitment") {
		t.Error("restored snapshot lost title_commitment")
	}
}

func TestSource(t *testing.T) {
	src := NewSource("")
	snap, err := src.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if snap.ID != Builtin().ID {
		t.Error("empty path should resolve to the built-in taxonomy")
	}

	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte("categories: [{name: income, description: d}]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	src.SetPath(path)
	snap, err = src.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if snap.Source != "file:"+path {
		t.Errorf("Source = %q, want file:%s", snap.Source, path)
	}

	src.SetPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := src.Current(); err == nil {
		t.Error("expected error for missing file")
	}
}
