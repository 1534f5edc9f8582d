package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"ledger/events"
	"ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) {
	r.events = append(r.events, e)
}

func newEntryService(t *testing.T) (*EntryService, *LookupService, *gorm.DB, *recordingPublisher) {
	t.Helper()
	db := newTestDB(t)
	lookups := NewLookupService(db, "")
	pub := &recordingPublisher{}
	return NewEntryService(db, lookups, pub), lookups, db, pub
}

func validInput() CreateEntryInput {
	return CreateEntryInput{
		Name:         "Milk",
		Quantity:     2,
		Price:        129,
		PurchaseDate: "2024-01-01",
		CategoryName: "Groceries",
		StoreName:    "Lidl",
	}
}

func TestEntryCreate_ResolvesNamesAndListJoins(t *testing.T) {
	svc, lookups, _, pub := newEntryService(t)
	ctx := context.Background()

	entry, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, uint(1), entry.OwnerID)
	require.NotNil(t, entry.StoreID)

	cats, err := lookups.List(ctx, models.KindCategory, 1, "")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, cats[0].ID, entry.CategoryID)

	views, err := svc.ListWithLookups(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].CategoryName)
	require.NotNil(t, views[0].StoreName)
	assert.Equal(t, "Groceries", *views[0].CategoryName)
	assert.Equal(t, "Lidl", *views[0].StoreName)
	assert.Equal(t, int64(258), views[0].Total)
	assert.Equal(t, "2,58 €", views[0].TotalDisplay)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.EntryCreated, pub.events[0].Type)
	assert.Equal(t, entry.ID, pub.events[0].EntryID)
}

func TestEntryCreate_ReusesExistingLookupByName(t *testing.T) {
	svc, lookups, _, _ := newEntryService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)

	in := validInput()
	in.CategoryName = "  GROCERIES "
	in.StoreName = "lidl"
	b, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)

	assert.Equal(t, a.CategoryID, b.CategoryID)
	assert.Equal(t, *a.StoreID, *b.StoreID)

	stores, err := lookups.List(ctx, models.KindStore, 1, "")
	require.NoError(t, err)
	assert.Len(t, stores, 1)
}

func TestEntryCreate_ByID(t *testing.T) {
	svc, lookups, _, _ := newEntryService(t)
	ctx := context.Background()

	cat, _, err := lookups.ResolveOrCreate(ctx, models.KindCategory, 1, "Fuel", "")
	require.NoError(t, err)
	store, _, err := lookups.ResolveOrCreate(ctx, models.KindStore, 1, "Shell", "")
	require.NoError(t, err)

	entry, err := svc.Create(ctx, 1, CreateEntryInput{
		Name:         "Diesel",
		Quantity:     40.5,
		PriceText:    "1,79 €",
		PurchaseDate: "2024-05-02",
		CategoryID:   cat.ID,
		StoreID:      store.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(179), entry.Price)
	assert.Equal(t, cat.ID, entry.CategoryID)
	assert.Equal(t, store.ID, *entry.StoreID)
	assert.Equal(t, int64(7250), entry.Total())
}

func TestEntryCreate_Validation(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(*CreateEntryInput)
	}{
		{"empty name", func(in *CreateEntryInput) { in.Name = "  " }},
		{"zero quantity", func(in *CreateEntryInput) { in.Quantity = 0 }},
		{"negative quantity", func(in *CreateEntryInput) { in.Quantity = -1 }},
		{"zero price", func(in *CreateEntryInput) { in.Price = 0 }},
		{"negative price", func(in *CreateEntryInput) { in.Price = -5 }},
		{"bad price text", func(in *CreateEntryInput) { in.Price = 0; in.PriceText = "abc" }},
		{"bad date", func(in *CreateEntryInput) { in.PurchaseDate = "01/02/2024" }},
		{"impossible date", func(in *CreateEntryInput) { in.PurchaseDate = "2024-02-30" }},
		{"no category", func(in *CreateEntryInput) { in.CategoryName = "" }},
		{"no store", func(in *CreateEntryInput) { in.StoreName = " " }},
		{"long name", func(in *CreateEntryInput) { in.Name = strings.Repeat("x", maxEntryNameLen+1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.modify(&in)
			_, err := svc.Create(ctx, 1, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	raw, err := svc.ListRaw(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestEntryCreate_RequiresOwner(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	_, err := svc.Create(context.Background(), 0, validInput())
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEntryCreate_ReferenceErrors(t *testing.T) {
	svc, lookups, _, _ := newEntryService(t)
	ctx := context.Background()

	foreign, _, err := lookups.ResolveOrCreate(ctx, models.KindCategory, 2, "Theirs", "")
	require.NoError(t, err)

	in := validInput()
	in.CategoryName = ""
	in.CategoryID = foreign.ID
	_, err = svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrReference)

	in = validInput()
	in.StoreName = ""
	in.StoreID = 4242
	_, err = svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrReference)

	// 引用校验失败时不应创建任何类别/商店
	cats, err := lookups.List(ctx, models.KindCategory, 1, "")
	require.NoError(t, err)
	assert.Empty(t, cats)
}

func TestEntryCreate_FailureLeavesLookupsUnchanged(t *testing.T) {
	svc, lookups, db, pub := newEntryService(t)
	ctx := context.Background()

	assertNoLookups := func(t *testing.T) {
		t.Helper()
		cats, err := lookups.List(ctx, models.KindCategory, 1, "")
		require.NoError(t, err)
		assert.Empty(t, cats)
		stores, err := lookups.List(ctx, models.KindStore, 1, "")
		require.NoError(t, err)
		assert.Empty(t, stores)
	}

	// 商店名称过长，在任何写入前被拒绝
	in := validInput()
	in.CategoryName = "FreshCategory"
	in.StoreName = strings.Repeat("s", maxLookupNameLen+1)
	_, err := svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrValidation)
	assertNoLookups(t)

	in = validInput()
	in.CategoryName = strings.Repeat("c", maxLookupNameLen+1)
	_, err = svc.Create(ctx, 1, in)
	assert.ErrorIs(t, err, ErrValidation)
	assertNoLookups(t)

	// 写入记录失败时，已解析出的新类别/商店随事务回滚
	require.NoError(t, db.Migrator().DropTable(&models.Entry{}))
	_, err = svc.Create(ctx, 1, validInput())
	require.Error(t, err)
	assertNoLookups(t)
	assert.Empty(t, pub.events)
}

func TestEntryDelete(t *testing.T) {
	svc, _, _, pub := newEntryService(t)
	ctx := context.Background()

	entry, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)

	err = svc.Delete(ctx, 2, entry.ID)
	assert.ErrorIs(t, err, ErrAuthorization)

	raw, err := svc.ListRaw(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, raw, 1)

	require.NoError(t, svc.Delete(ctx, 1, entry.ID))
	err = svc.Delete(ctx, 1, entry.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.Delete(ctx, 0, entry.ID)
	assert.ErrorIs(t, err, ErrAuthentication)

	require.Len(t, pub.events, 2)
	assert.Equal(t, events.EntryDeleted, pub.events[1].Type)
}

func TestListWithLookups_OrderByDateDesc(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	ctx := context.Background()

	for _, d := range []string{"2024-01-01", "2024-03-01", "2024-02-01"} {
		in := validInput()
		in.PurchaseDate = d
		_, err := svc.Create(ctx, 1, in)
		require.NoError(t, err)
	}

	views, err := svc.ListWithLookups(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "2024-03-01", views[0].PurchaseDate)
	assert.Equal(t, "2024-02-01", views[1].PurchaseDate)
	assert.Equal(t, "2024-01-01", views[2].PurchaseDate)

	for _, v := range views {
		assert.Equal(t, v.Entry.Total(), v.Total)
	}
}

func TestListWithLookups_TiesByInsertionOrder(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	ctx := context.Background()

	var ids []uint
	for _, name := range []string{"first", "second", "third"} {
		in := validInput()
		in.Name = name
		e, err := svc.Create(ctx, 1, in)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	views, err := svc.ListWithLookups(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 3)
	for i, v := range views {
		assert.Equal(t, ids[i], v.ID)
	}
}

func TestListWithLookups_OwnerIsolationAndDangling(t *testing.T) {
	svc, _, db, _ := newEntryService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, validInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, validInput())
	require.NoError(t, err)

	// 历史数据：无商店、类别已不存在
	legacy := models.Entry{OwnerID: 1, Name: "Old", Quantity: 1, Price: 100, PurchaseDate: "2020-01-01", CategoryID: 9999}
	require.NoError(t, db.Create(&legacy).Error)

	views, err := svc.ListWithLookups(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, uint(1), v.OwnerID)
	}
	last := views[1]
	assert.Equal(t, "Old", last.Name)
	assert.Nil(t, last.CategoryName)
	assert.Nil(t, last.StoreName)

	_, err = svc.ListWithLookups(ctx, 0)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestSummary(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	ctx := context.Background()

	inputs := []CreateEntryInput{
		{Name: "Milk", Quantity: 2, Price: 100, PurchaseDate: "2024-01-01", CategoryName: "Food", StoreName: "A"},
		{Name: "Bread", Quantity: 1, Price: 250, PurchaseDate: "2024-01-02", CategoryName: "food", StoreName: "A"},
		{Name: "Fuel", Quantity: 10, Price: 180, PurchaseDate: "2024-01-03", CategoryName: "Car", StoreName: "B"},
	}
	for _, in := range inputs {
		_, err := svc.Create(ctx, 1, in)
		require.NoError(t, err)
	}

	s, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, int64(2250), s.Total)
	assert.Equal(t, "22,50 €", s.TotalDisplay)
	require.Len(t, s.Categories, 2)
	assert.Equal(t, "Car", *s.Categories[0].CategoryName)
	assert.Equal(t, int64(1800), s.Categories[0].Total)
	assert.Equal(t, "Food", *s.Categories[1].CategoryName)
	assert.Equal(t, 2, s.Categories[1].Count)
	assert.Equal(t, int64(450), s.Categories[1].Total)
}

func TestReports(t *testing.T) {
	svc, _, _, _ := newEntryService(t)
	ctx := context.Background()

	for _, d := range []string{"2024-01-01", "2024-02-01"} {
		in := validInput()
		in.PurchaseDate = d
		_, err := svc.Create(ctx, 1, in)
		require.NoError(t, err)
	}
	views, err := svc.ListWithLookups(ctx, 1)
	require.NoError(t, err)

	assert.Len(t, FilterByDate(views, "2024-01-15", ""), 1)
	assert.Len(t, FilterByDate(views, "", "2024-01-01"), 1)
	assert.Len(t, FilterByDate(views, "", ""), 2)

	var buf bytes.Buffer
	require.NoError(t, WriteEntriesCSV(&buf, views))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "\xEF\xBB\xBFID,Date"))
	assert.Contains(t, lines[1], "2024-02-01")
	assert.Contains(t, lines[3], "5,16 €")

	data, err := EntriesXLSXBytes(views)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue(reportSheet, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Name", header)
	name, err := f.GetCellValue(reportSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "Milk", name)
	label, err := f.GetCellValue(reportSheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Total", label)
}
