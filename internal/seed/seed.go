// Package seed builds demo catalog data for local runs and load simulations.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/tenant-booking-engine/internal/booking"
	"github.com/hackgods/tenant-booking-engine/internal/calendar"
)

var timezones = []string{
	"Asia/Kuala_Lumpur",
	"Europe/Berlin",
	"America/New_York",
	"Australia/Sydney",
	"UTC",
}

var serviceNames = []string{
	"Haircut",
	"Colour",
	"Beard Trim",
	"Consultation",
	"Massage",
	"Manicure",
	"Facial",
	"Physio Session",
}

type Options struct {
	Tenants           int
	StaffPerTenant    int
	ServicesPerTenant int
	Customers         int
	Seed              uint64 // 0 picks a random seed
}

func (o Options) withDefaults() Options {
	if o.Tenants <= 0 {
		o.Tenants = 1
	}
	if o.StaffPerTenant <= 0 {
		o.StaffPerTenant = 3
	}
	if o.ServicesPerTenant <= 0 {
		o.ServicesPerTenant = 3
	}
	if o.Customers <= 0 {
		o.Customers = 50
	}
	return o
}

type TenantData struct {
	Tenant   booking.Tenant
	Services []booking.Service
	Staff    []booking.Staff
}

type Result struct {
	Tenants   []TenantData
	Customers []booking.CustomerID
}

// Demo writes tenants open Monday to Saturday 09:00-18:00 with staff working 09:00-17:00.
func Demo(ctx context.Context, w booking.CatalogWriter, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	faker := gofakeit.New(opts.Seed)
	now := time.Now().UTC()

	res := &Result{}
	for i := 0; i < opts.Tenants; i++ {
		td, err := demoTenant(ctx, w, faker, opts, now)
		if err != nil {
			return nil, err
		}
		res.Tenants = append(res.Tenants, *td)
	}

	// Customers are owned by another system; the engine only stores their ids.
	for i := 0; i < opts.Customers; i++ {
		res.Customers = append(res.Customers, booking.CustomerID(uuid.New()))
	}
	return res, nil
}

func demoTenant(ctx context.Context, w booking.CatalogWriter, faker *gofakeit.Faker, opts Options, now time.Time) (*TenantData, error) {
	tenant := booking.Tenant{
		ID:                   booking.TenantID(uuid.New()),
		Name:                 faker.Company(),
		Timezone:             faker.RandomString(timezones),
		AutoConfirmBookings:  faker.Bool(),
		BookingBufferMinutes: faker.RandomInt([]int{0, 5, 10, 15}),
		CreatedAt:            now,
	}
	if err := w.SaveTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("save tenant: %w", err)
	}
	td := &TenantData{Tenant: tenant}

	for d := time.Sunday; d <= time.Saturday; d++ {
		err := w.SaveBusinessHours(ctx, booking.BusinessHours{
			TenantID: tenant.ID,
			Weekday:  d,
			Open:     calendar.MustTimeOfDay("09:00"),
			Close:    calendar.MustTimeOfDay("18:00"),
			IsOpen:   d != time.Sunday,
		})
		if err != nil {
			return nil, fmt.Errorf("save business hours: %w", err)
		}
	}

	for i := 0; i < opts.ServicesPerTenant; i++ {
		svc := booking.Service{
			ID:              booking.ServiceID(uuid.New()),
			TenantID:        tenant.ID,
			Name:            serviceNames[i%len(serviceNames)],
			DurationMinutes: faker.RandomInt([]int{30, 45, 60, 90}),
			Price:           decimal.NewFromFloat(faker.Price(20, 150)).Round(2),
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := w.SaveService(ctx, svc); err != nil {
			return nil, fmt.Errorf("save service: %w", err)
		}
		td.Services = append(td.Services, svc)
	}

	for i := 0; i < opts.StaffPerTenant; i++ {
		st := booking.Staff{
			ID:          booking.StaffID(uuid.New()),
			TenantID:    tenant.ID,
			DisplayName: faker.Name(),
			IsActive:    true,
			CreatedAt:   now,
		}
		if err := w.SaveStaff(ctx, st); err != nil {
			return nil, fmt.Errorf("save staff: %w", err)
		}
		for d := time.Monday; d <= time.Saturday; d++ {
			err := w.SaveStaffAvailability(ctx, booking.StaffAvailability{
				TenantID:    tenant.ID,
				StaffID:     st.ID,
				Weekday:     d,
				Start:       calendar.MustTimeOfDay("09:00"),
				End:         calendar.MustTimeOfDay("17:00"),
				IsAvailable: true,
			})
			if err != nil {
				return nil, fmt.Errorf("save staff availability: %w", err)
			}
		}
		td.Staff = append(td.Staff, st)
	}

	return td, nil
}
