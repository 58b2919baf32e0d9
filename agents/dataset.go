// Package agents implements the built-in specialist agents wrapped by
// the orchestration graph: database querying, cash-box diagnostics,
// desktop/file operations, Google Workspace integration, alerting and
// conversational synthesis.
package agents

// branchRecord is one branch row of the embedded demo dataset. The
// dataset stands in for the institutional database behind capi_datab so
// the runtime contract is exercisable without external connectivity.
type branchRecord struct {
	ID      int
	Name    string
	Balance float64
	Boxes   []cashBox
}

// cashBox is one teller cash box with its policy band.
type cashBox struct {
	ID      string
	Balance float64
	Min     float64
	Max     float64
}

var branchTable = []branchRecord{
	{ID: 1, Name: "Casa Central", Balance: 18_450_300.50, Boxes: []cashBox{
		{ID: "1-01", Balance: 950_000, Min: 200_000, Max: 1_200_000},
		{ID: "1-02", Balance: 1_310_500, Min: 200_000, Max: 1_200_000},
	}},
	{ID: 4, Name: "Microcentro", Balance: 9_830_120.00, Boxes: []cashBox{
		{ID: "4-01", Balance: 420_000, Min: 150_000, Max: 900_000},
	}},
	{ID: 7, Name: "Palermo", Balance: 6_120_940.75, Boxes: []cashBox{
		{ID: "7-01", Balance: 140_000, Min: 150_000, Max: 800_000},
		{ID: "7-02", Balance: 610_300, Min: 150_000, Max: 800_000},
	}},
	{ID: 12, Name: "Belgrano", Balance: 7_540_210.25, Boxes: []cashBox{
		{ID: "12-01", Balance: 350_000, Min: 100_000, Max: 700_000},
	}},
	{ID: 23, Name: "Rosario Centro", Balance: 11_275_860.40, Boxes: []cashBox{
		{ID: "23-01", Balance: 980_000, Min: 250_000, Max: 1_000_000},
		{ID: "23-02", Balance: 1_045_200, Min: 250_000, Max: 1_000_000},
		{ID: "23-03", Balance: 310_450, Min: 250_000, Max: 1_000_000},
	}},
	{ID: 31, Name: "Cordoba Norte", Balance: 5_902_330.10, Boxes: []cashBox{
		{ID: "31-01", Balance: 95_000, Min: 120_000, Max: 600_000},
	}},
	{ID: 45, Name: "Mendoza", Balance: 4_310_775.90, Boxes: []cashBox{
		{ID: "45-01", Balance: 510_000, Min: 100_000, Max: 550_000},
	}},
}

func findBranch(id int) *branchRecord {
	for i := range branchTable {
		if branchTable[i].ID == id {
			return &branchTable[i]
		}
	}
	return nil
}

func branchRow(b *branchRecord) map[string]any {
	return map[string]any{
		"branch_id":   b.ID,
		"branch_name": b.Name,
		"balance":     b.Balance,
		"cash_boxes":  len(b.Boxes),
	}
}

func allBranchRows() []map[string]any {
	rows := make([]map[string]any, 0, len(branchTable))
	for i := range branchTable {
		rows = append(rows, branchRow(&branchTable[i]))
	}
	return rows
}
