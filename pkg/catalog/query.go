package catalog

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/smmdb/smmdb-client/pkg/errors"
)

// DefaultLimit is the page size used when none is configured.
const DefaultLimit = 25

// MaxLimit is the largest page size the service accepts in one request.
const MaxLimit = 120

// SortField names a sortable metadata field.
type SortField string

// Sortable fields.
const (
	SortLastModified SortField = "last_modified"
	SortUploaded     SortField = "uploaded"
	SortVotes        SortField = "votes"
)

// Sort directions.
const (
	SortDescending = -1
	SortAscending  = 1
)

// SortKey is one element of an ordered sort specification.
type SortKey struct {
	Field SortField `json:"val" validate:"oneof=last_modified uploaded votes"`
	Dir   int       `json:"dir" validate:"oneof=-1 1"`
}

// QueryState drives the paginated "current results" view against the
// catalog. Skip resets to 0 whenever a filter or sort changes, which the
// Set* mutators enforce.
type QueryState struct {
	Limit        uint32      `validate:"min=1,max=120"`
	Skip         uint32      `validate:"-"`
	Title        string      `validate:"max=256"`
	Uploader     string      `validate:"max=256"`
	Difficulty   *Difficulty `validate:"omitempty,min=1,max=4"`
	Sort         []SortKey   `validate:"dive"`
	TitleTrimmed bool        `validate:"-"`
}

// queryValidator validates QueryState instances.
var queryValidator = validator.New()

// DefaultQuery returns the initial query: first page of 25, sorted by
// last_modified descending, trimmed title matching.
func DefaultQuery() QueryState {
	return QueryState{
		Limit:        DefaultLimit,
		TitleTrimmed: true,
		Sort: []SortKey{
			{Field: SortLastModified, Dir: SortDescending},
		},
	}
}

// Validate checks bounds and enum membership.
func (q QueryState) Validate() error {
	if err := queryValidator.Struct(q); err != nil {
		return errors.WrapValidation("query", err)
	}
	return nil
}

// SetTitle replaces the title filter and resets pagination. The input is
// normalized to NFC so composed and decomposed spellings match.
func (q *QueryState) SetTitle(title string) {
	q.Title = norm.NFC.String(title)
	q.Skip = 0
}

// SetUploader replaces the uploader filter and resets pagination.
func (q *QueryState) SetUploader(uploader string) {
	q.Uploader = norm.NFC.String(uploader)
	q.Skip = 0
}

// SetDifficulty replaces the difficulty filter and resets pagination.
// A nil difficulty clears the filter.
func (q *QueryState) SetDifficulty(d *Difficulty) {
	q.Difficulty = d
	q.Skip = 0
}

// SetSort replaces the sort specification and resets pagination.
func (q *QueryState) SetSort(sort []SortKey) {
	q.Sort = sort
	q.Skip = 0
}

// NextPage advances pagination by one page.
func (q *QueryState) NextPage() {
	q.Skip += q.Limit
}

// PrevPage rewinds pagination by one page, clamping at the first.
func (q *QueryState) PrevPage() {
	if q.Skip < q.Limit {
		q.Skip = 0
		return
	}
	q.Skip -= q.Limit
}

// Values encodes the query into the service's query-string form. Unset
// optional fields are omitted; the sort specification serializes as an
// ordered list of {val, dir} pairs. Sorting by votes appends a fixed
// last_modified-descending tie-break so results stay deterministic across
// pages.
func (q QueryState) Values() url.Values {
	values := url.Values{}
	values.Set("limit", strconv.FormatUint(uint64(q.Limit), 10))
	if q.Skip > 0 {
		values.Set("skip", strconv.FormatUint(uint64(q.Skip), 10))
	}
	if q.Title != "" {
		values.Set("title", q.Title)
	}
	if q.Uploader != "" {
		values.Set("uploader", q.Uploader)
	}
	if q.Difficulty != nil && *q.Difficulty != DifficultyUnset {
		values.Set("difficulty", q.Difficulty.String())
	}
	values.Set("title_trimmed", strconv.FormatBool(q.TitleTrimmed))

	encodeSort(values, q.effectiveSort())

	return values
}

// effectiveSort returns the sort specification with the deterministic
// tie-break applied.
func (q QueryState) effectiveSort() []SortKey {
	sort := q.Sort
	if len(sort) == 0 {
		return []SortKey{{Field: SortLastModified, Dir: SortDescending}}
	}

	byVotes := false
	hasLastModified := false
	for _, key := range sort {
		if key.Field == SortVotes {
			byVotes = true
		}
		if key.Field == SortLastModified {
			hasLastModified = true
		}
	}
	if byVotes && !hasLastModified {
		out := make([]SortKey, len(sort), len(sort)+1)
		copy(out, sort)
		return append(out, SortKey{Field: SortLastModified, Dir: SortDescending})
	}
	return sort
}

// encodeSort writes sort keys in the service's indexed bracket form:
// sort[0][val]=votes&sort[0][dir]=-1&...
func encodeSort(values url.Values, sort []SortKey) {
	for i, key := range sort {
		values.Set(fmt.Sprintf("sort[%d][val]", i), string(key.Field))
		values.Set(fmt.Sprintf("sort[%d][dir]", i), strconv.Itoa(key.Dir))
	}
}

// encodeIDs writes a batch id lookup in the service's indexed form:
// ids[0]=...&ids[1]=...
func encodeIDs(values url.Values, ids []string) {
	for i, id := range ids {
		values.Set(fmt.Sprintf("ids[%d]", i), id)
	}
}
