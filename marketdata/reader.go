package marketdata

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/types"
)

// csv columns: order_id, side, price, quantity, type, disp,
// display_size, owner, stop_price, session_id, ip_address
const csvColumns = 11

// Record is one parsed CSV row.
type Record struct {
	Request  types.OrderRequest
	ClientIP string
}

// ReadCSV parses an order stream, skipping malformed rows. The count of
// skipped rows is returned alongside the parsed records.
func ReadCSV(r io.Reader) ([]Record, int) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var records []Record
	skipped := 0

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if len(row) > 0 && row[0] == "order_id" {
			continue
		}
		rec, ok := parseRow(row)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// ReadCSVFile loads an order stream from disk.
func ReadCSVFile(path string) ([]Record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	records, skipped := ReadCSV(f)
	if skipped > 0 {
		config.Logger.Warnf("[marketdata] skipped %d malformed rows in %s", skipped, path)
	}
	return records, skipped, nil
}

func parseRow(row []string) (Record, bool) {
	if len(row) < csvColumns {
		return Record{}, false
	}

	id, err := strconv.ParseUint(row[0], 10, 64)
	if err != nil {
		return Record{}, false
	}
	price, err := strconv.ParseInt(row[2], 10, 64)
	if err != nil || price < 0 {
		return Record{}, false
	}
	quantity, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil || quantity <= 0 {
		return Record{}, false
	}
	display, err := strconv.ParseInt(row[5], 10, 64)
	if err != nil || display < 0 {
		return Record{}, false
	}
	displaySize, err := strconv.ParseInt(row[6], 10, 64)
	if err != nil || displaySize < 0 {
		return Record{}, false
	}
	owner, err := strconv.ParseUint(row[7], 10, 32)
	if err != nil || owner == 0 {
		return Record{}, false
	}
	stopPrice, err := strconv.ParseInt(row[8], 10, 64)
	if err != nil || stopPrice < 0 {
		return Record{}, false
	}
	sessionID, err := strconv.ParseUint(row[9], 10, 32)
	if err != nil {
		return Record{}, false
	}

	orderType := types.ParseOrderType(row[4])
	if orderType == types.TypeStopLoss && stopPrice == 0 {
		return Record{}, false
	}
	if orderType != types.TypeMarket && price == 0 {
		return Record{}, false
	}

	return Record{
		Request: types.OrderRequest{
			ID:          id,
			Side:        types.ParseSide(row[1]),
			Type:        orderType,
			Price:       price,
			StopPrice:   stopPrice,
			Quantity:    quantity,
			Display:     display,
			DisplaySize: displaySize,
			OwnerID:     uint32(owner),
			SessionID:   uint32(sessionID),
		},
		ClientIP: row[10],
	}, true
}
