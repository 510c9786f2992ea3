package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immoflow/propsync/internal/cms"
	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/dicts"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/metrics"
	"github.com/immoflow/propsync/internal/source"
	"github.com/immoflow/propsync/internal/staging"
)

// --- fakes -----------------------------------------------------------------

type fakeReader struct {
	records []source.Record
	err     error
}

func (f *fakeReader) FetchAll(context.Context, int, int) ([]source.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeFeed struct {
	details map[int]source.Record
	agents  []source.Record
}

func (f *fakeFeed) PropertyByID(_ context.Context, id int) (source.Record, error) {
	if rec, ok := f.details[id]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("source API status 404: no property %d", id)
}

func (f *fakeFeed) Agents(context.Context) ([]source.Record, error) {
	return f.agents, nil
}

type fakeStaging struct {
	props  map[int]map[string]any
	agents map[int]map[string]any
}

func newFakeStaging() *fakeStaging {
	return &fakeStaging{
		props:  make(map[int]map[string]any),
		agents: make(map[int]map[string]any),
	}
}

func (f *fakeStaging) ListProperties(context.Context) ([]staging.Record, error) {
	out := make([]staging.Record, 0, len(f.props))
	for id, fields := range f.props {
		out = append(out, staging.Record{ID: fmt.Sprintf("prop-%d", id), Fields: fields})
	}
	return out, nil
}

func (f *fakeStaging) ListAgents(context.Context) ([]staging.Record, error) {
	out := make([]staging.Record, 0, len(f.agents))
	for id, fields := range f.agents {
		out = append(out, staging.Record{ID: fmt.Sprintf("agent-rec-%d", id), Fields: fields})
	}
	return out, nil
}

func (f *fakeStaging) UpsertProperty(_ context.Context, externalID int, fields map[string]any) (string, error) {
	action := staging.ActionCreated
	if _, ok := f.props[externalID]; ok {
		action = staging.ActionUpdated
	}
	f.props[externalID] = fields
	return action, nil
}

func (f *fakeStaging) UpsertAgent(_ context.Context, personID int, fields map[string]any) (string, error) {
	action := staging.ActionCreated
	if _, ok := f.agents[personID]; ok {
		action = staging.ActionUpdated
	}
	f.agents[personID] = fields
	return action, nil
}

func (f *fakeStaging) DeleteProperty(_ context.Context, externalID int) (bool, error) {
	_, ok := f.props[externalID]
	delete(f.props, externalID)
	return ok, nil
}

type fakeTarget struct {
	collections map[string][]cms.Item
	fields      map[string]map[string]cms.Field
	nextID      int

	failUpdateSlug string // updates for items with this slug fail
	creates        int
	updates        int
	deletes        int
	schemaChecks   int
	published      [][]string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{collections: make(map[string][]cms.Item)}
}

func (f *fakeTarget) CollectionFields(_ context.Context, collectionID string) (map[string]cms.Field, error) {
	f.schemaChecks++
	return f.fields[collectionID], nil
}

func (f *fakeTarget) ListItems(_ context.Context, collectionID string) ([]cms.Item, error) {
	items := f.collections[collectionID]
	out := make([]cms.Item, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeTarget) CreateItem(_ context.Context, collectionID string, fieldData map[string]any) (cms.Item, error) {
	f.creates++
	f.nextID++
	item := cms.Item{ID: fmt.Sprintf("item-%d", f.nextID), FieldData: fieldData}
	f.collections[collectionID] = append(f.collections[collectionID], item)
	return item, nil
}

func (f *fakeTarget) UpdateItem(_ context.Context, collectionID, itemID string, fieldData map[string]any) error {
	for i, item := range f.collections[collectionID] {
		if item.ID != itemID {
			continue
		}
		if f.failUpdateSlug != "" && item.Slug() == f.failUpdateSlug {
			return errors.New("cms status 500: boom")
		}
		f.updates++
		for field, value := range fieldData {
			f.collections[collectionID][i].FieldData[field] = value
		}
		return nil
	}
	return fmt.Errorf("cms status 404: item %s", itemID)
}

func (f *fakeTarget) DeleteItem(_ context.Context, collectionID, itemID string) error {
	items := f.collections[collectionID]
	for i, item := range items {
		if item.ID == itemID {
			f.deletes++
			f.collections[collectionID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cms status 404: item %s", itemID)
}

func (f *fakeTarget) PublishSite(_ context.Context, collectionIDs []string) error {
	f.published = append(f.published, collectionIDs)
	return nil
}

func (f *fakeTarget) find(collectionID, slug string) (cms.Item, bool) {
	for _, item := range f.collections[collectionID] {
		if item.Slug() == slug {
			return item, true
		}
	}
	return cms.Item{}, false
}

// --- fixtures --------------------------------------------------------------

func testCollections() map[string]string {
	out := make(map[string]string, len(allKinds))
	for _, kind := range allKinds {
		out[kind.CollectionKey()] = "c-" + string(kind)
	}
	return out
}

func eligibleProperty(id int) source.Record {
	return source.Record{
		"id":      float64(id),
		"publish": true,
		"show":    true,
		"price":   float64(300000),
		"type_id": float64(4),
		"address": map[string]any{
			"street":         "Veldstraat",
			"country_geo_id": float64(23),
			"city_geo_id":    float64(100),
		},
		"facilities": []any{
			map[string]any{"facility_id": float64(7)},
			map[string]any{"facility_id": float64(8)},
		},
		"responsible_salesrep_person_id": float64(9),
	}
}

func testService(t *testing.T, reader *fakeReader, feed *fakeFeed, store *fakeStaging, target *fakeTarget, extras ...func(*Options)) *Service {
	t.Helper()

	resolver := dicts.NewResolver(staticVocab{
		vocab: map[string][]source.VocabEntry{
			"property/types": {vocabEntry(4, "Woning")},
			// Two case-variant labels for the same facility concept.
			"property/facilities":   {vocabEntry(7, "Garage"), vocabEntry(8, "garage")},
			"property/environments": {vocabEntry(5, "Stadscentrum")},
			"property/layouts":      {vocabEntry(21, "Slaapkamer")},
		},
		cities: map[int][]source.VocabEntry{
			23: {{ID: 100, Name: source.LocalizedLabel{NL: "Gent"}, Zip: "9000"}},
		},
	}, logger.NewNopLogger())

	opts := Options{
		Config: config.SyncConfig{
			Interval:    time.Hour,
			RecordDelay: time.Nanosecond,
		},
		Collections: testCollections(),
		Reader:      reader,
		Feed:        feed,
		Staging:     store,
		Target:      target,
		Dicts:       resolver,
		Mapper:      staging.NewMapper(resolver, logger.NewNopLogger()),
		Logger:      logger.NewNopLogger(),
	}
	for _, extra := range extras {
		extra(&opts)
	}

	svc, err := NewService(opts)
	require.NoError(t, err)
	return svc
}

type staticVocab struct {
	vocab  map[string][]source.VocabEntry
	cities map[int][]source.VocabEntry
	errs   map[string]error
}

func (s staticVocab) Vocabulary(_ context.Context, path string) ([]source.VocabEntry, error) {
	if err := s.errs[path]; err != nil {
		return nil, err
	}
	return s.vocab[path], nil
}

func (s staticVocab) Cities(_ context.Context, countryID int) ([]source.VocabEntry, error) {
	return s.cities[countryID], nil
}

func vocabEntry(id int, label string) source.VocabEntry {
	return source.VocabEntry{ID: id, Name: source.LocalizedLabel{NL: label}}
}

// --- tests -----------------------------------------------------------------

func TestRunPassPublishesPropertyWithLeaves(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{
		details: map[int]source.Record{500: prop},
		agents:  []source.Record{{"id": float64(9), "first_name": "An", "last_name": "Peeters"}},
	}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Errors)

	// Property plus its five leaves all exist under the shared key.
	for _, kind := range []Kind{KindProperty, KindLocation, KindLegal, KindFilesLinks, KindLayoutInside, KindLayoutOutside, KindComfort} {
		_, found := target.find("c-"+string(kind), "property-500")
		assert.True(t, found, "missing %s item", kind)
	}

	property, _ := target.find("c-property", "property-500")

	// Case-variant facility labels collapsed to a single tag, referenced once.
	facilityItems := target.collections["c-facility"]
	require.Len(t, facilityItems, 1)
	assert.Equal(t, "garage", facilityItems[0].Slug())
	facilityRefs := property.FieldData["facilities"].([]string)
	require.Len(t, facilityRefs, 1)
	assert.Equal(t, facilityItems[0].ID, facilityRefs[0])

	// Every reference field points at an item that exists.
	agentItem, found := target.find("c-agent", "agent-9")
	require.True(t, found)
	assert.Equal(t, agentItem.ID, property.FieldData["agent"])

	location, _ := target.find("c-location", "property-500")
	assert.Equal(t, location.ID, property.FieldData["location"])
	assert.Equal(t, "Gent", location.FieldData["city"])

	// Touched collections trigger exactly one site publish.
	require.Len(t, target.published, 1)
	assert.Contains(t, target.published[0], "c-property")

	// Every processed collection had its schema inspected for drift.
	assert.Positive(t, target.schemaChecks)
}

func TestRunPassIdempotent(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)

	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	createsAfterFirst := target.creates

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, createsAfterFirst, target.creates, "second pass creates nothing new")
	assert.Zero(t, run.Created)
	assert.Positive(t, run.Updated)
	assert.Zero(t, run.Removed)
}

func TestRunPassRemovesIneligibleEverywhere(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	// The record is archived upstream before the second pass.
	archived := eligibleProperty(500)
	archived["archived"] = true
	reader.records = []source.Record{archived}
	feed.details[500] = archived

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.props, "staging row deleted, not archived")
	for _, kind := range []Kind{KindProperty, KindLocation, KindLegal, KindFilesLinks, KindLayoutInside, KindLayoutOutside, KindComfort} {
		_, found := target.find("c-"+string(kind), "property-500")
		assert.False(t, found, "%s item should be swept", kind)
	}
	assert.GreaterOrEqual(t, run.Removed, 7)
}

func TestRunPassFailedUpdateNotSwept(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	// Second pass: every write to the property item fails.
	target.failUpdateSlug = "property-500"

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err, "per-record failures never abort the pass")
	assert.Positive(t, run.Errors)

	_, found := target.find("c-property", "property-500")
	assert.True(t, found, "failure is not absence; the item survives the sweep")
}

func TestRunPassProjectDropsUnresolvedMembers(t *testing.T) {
	project := eligibleProperty(500)
	project["is_project"] = true
	project["child_properties"] = []any{float64(501), float64(502)}
	member := eligibleProperty(501)

	reader := &fakeReader{records: []source.Record{project, member}}
	feed := &fakeFeed{details: map[int]source.Record{500: project, 501: member}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Errors, "an unresolved member is a diagnostic, not an error")

	projectItem, found := target.find("c-project", "project-500")
	require.True(t, found)

	memberProperty, _ := target.find("c-property", "property-501")
	members := projectItem.FieldData["properties"].([]string)
	require.Len(t, members, 1, "member 502 never resolved this pass")
	assert.Equal(t, memberProperty.ID, members[0])
}

func TestRunPassReaderFailureAborts(t *testing.T) {
	reader := &fakeReader{err: errors.New("source API status 503: down")}
	svc := testService(t, reader, &fakeFeed{}, newFakeStaging(), newFakeTarget())

	_, err := svc.RunPass(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read source feed")
}

func TestRunPassRemovesUnpublishedRecord(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	// The listing is unpublished upstream. It still arrives in the feed,
	// flagged ineligible, and must be cleaned up everywhere.
	unpublished := eligibleProperty(500)
	unpublished["publish"] = false
	reader.records = []source.Record{unpublished}
	feed.details[500] = unpublished

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.props, "staging row deleted")
	_, found := target.find("c-property", "property-500")
	assert.False(t, found, "property item should be swept")
	assert.Positive(t, run.Removed)
}

func TestRunPassGatesEligibilityOnDetailRecord(t *testing.T) {
	// Feed summaries can omit the publish flags entirely; only the detail
	// record carries them. A flag-less summary of a live listing must not
	// turn into a delete.
	summary := source.Record{"id": float64(500), "publish": true}
	reader := &fakeReader{records: []source.Record{summary}}
	feed := &fakeFeed{details: map[int]source.Record{500: eligibleProperty(500)}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Errors)

	assert.Contains(t, store.props, 500, "live listing staged from its detail record")
	_, found := target.find("c-property", "property-500")
	assert.True(t, found)
}

func TestRunPassDetailFetchFailureKeepsStagedRow(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, reader, feed, store, target)
	_, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	// Second pass: the detail endpoint fails and the summary carries no
	// flags. The record's eligibility is unknown, so nothing is deleted.
	reader.records = []source.Record{{"id": float64(500)}}
	delete(feed.details, 500)

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)
	assert.Positive(t, run.Errors)

	assert.Contains(t, store.props, 500, "staged row survives a failed detail fetch")
	_, found := target.find("c-property", "property-500")
	assert.True(t, found, "published item survives too")
}

func TestRunPassTagCatalogFailureSkipsSweep(t *testing.T) {
	prop := eligibleProperty(500)
	delete(prop, "facilities")
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	// A facility tag provisioned from the catalog in an earlier pass.
	target.collections["c-facility"] = []cms.Item{
		{ID: "item-sauna", FieldData: map[string]any{"name": "Sauna", "slug": "sauna"}},
	}

	failing := dicts.NewResolver(staticVocab{
		vocab: map[string][]source.VocabEntry{
			"property/types": {vocabEntry(4, "Woning")},
		},
		cities: map[int][]source.VocabEntry{
			23: {{ID: 100, Name: source.LocalizedLabel{NL: "Gent"}, Zip: "9000"}},
		},
		errs: map[string]error{
			"property/facilities": errors.New("source API status 503: down"),
		},
	}, logger.NewNopLogger())

	svc := testService(t, reader, feed, store, target, func(opts *Options) {
		opts.Dicts = failing
		opts.Mapper = staging.NewMapper(failing, logger.NewNopLogger())
	})

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	// The catalog read failed, so the sweep has no idea which tags still
	// exist upstream. Deleting on a failed read would be data loss.
	_, found := target.find("c-facility", "sauna")
	assert.True(t, found, "catalog-only tag survives a failed catalog load")
	assert.Zero(t, run.Removed)
}

type fakeRuns struct {
	inserted []string
	pruned   []time.Time
}

func (f *fakeRuns) InsertRun(_ context.Context, run metrics.SyncRun) error {
	f.inserted = append(f.inserted, run.RunID)
	return nil
}

func (f *fakeRuns) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruned = append(f.pruned, cutoff)
	return 1, nil
}

func TestRunPassPersistsAndPrunesRunHistory(t *testing.T) {
	prop := eligibleProperty(500)
	reader := &fakeReader{records: []source.Record{prop}}
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	runs := &fakeRuns{}

	svc := testService(t, reader, feed, newFakeStaging(), newFakeTarget(), func(opts *Options) {
		opts.Runs = runs
	})

	run, err := svc.RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, runs.inserted, 1)
	assert.Equal(t, run.RunID, runs.inserted[0])

	require.Len(t, runs.pruned, 1)
	assert.WithinDuration(t, time.Now().Add(-runRetention), runs.pruned[0], time.Minute)
}

func TestSyncOneStagesAndPublishes(t *testing.T) {
	prop := eligibleProperty(500)
	feed := &fakeFeed{details: map[int]source.Record{500: prop}}
	store := newFakeStaging()
	target := newFakeTarget()

	svc := testService(t, &fakeReader{}, feed, store, target)
	_, err := svc.SyncOne(context.Background(), 500)
	require.NoError(t, err)

	assert.Contains(t, store.props, 500)
	_, found := target.find("c-property", "property-500")
	assert.True(t, found)
}

func TestSyncOneUnknownRecord(t *testing.T) {
	svc := testService(t, &fakeReader{}, &fakeFeed{}, newFakeStaging(), newFakeTarget())

	_, err := svc.SyncOne(context.Background(), 404)
	require.Error(t, err)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Options{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	opts := Options{
		Reader:      &fakeReader{},
		Feed:        &fakeFeed{},
		Staging:     newFakeStaging(),
		Target:      newFakeTarget(),
		Dicts:       dicts.NewResolver(staticVocab{}, logger.NewNopLogger()),
		Mapper:      staging.NewMapper(nil, logger.NewNopLogger()),
		Collections: map[string]string{},
		Logger:      logger.NewNopLogger(),
	}
	_, err = NewService(opts)
	assert.ErrorIs(t, err, ErrNotConfigured, "property collection id is required")
}
