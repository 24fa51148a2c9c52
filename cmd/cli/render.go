package main

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	youpi "youpi_arm"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	switchOnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
)

func printStatus(status youpi.ChainStatus) {
	rows := make([][]string, 0, len(status.Motors))
	for _, m := range status.Motors {
		sw := "open"
		if m.SwitchClosed {
			sw = "closed"
		}
		rows = append(rows, []string{
			m.Joint.String(),
			fmt.Sprintf("%d", m.Steps),
			fmt.Sprintf("%.2f", m.MotorAngle),
			fmt.Sprintf("%.2f", m.JointAngle),
			sw,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Steps", "Motor °", "Joint °", "Switch").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch {
			case col == 0:
				return tableJointStyle
			case col == 4 && row >= 0 && row < len(status.Motors) && status.Motors[row].SwitchClosed:
				return switchOnStyle
			default:
				return tableCellStyle
			}
		})

	fmt.Println(headerStyle.Render("State: "+status.State) + dimStyle.Render(fmt.Sprintf("  busy=%v", status.Busy)))
	fmt.Println(t.Render())
}

func printRegisters(j youpi.Joint, regs map[string]uint32) {
	names := make([]string, 0, len(regs))
	for name := range regs {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("0x%06X", regs[name]), fmt.Sprintf("%d", regs[name])})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Register", "Hex", "Dec").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableJointStyle
			}
			return tableCellStyle
		})

	fmt.Println(headerStyle.Render("Registers of " + j.String()))
	fmt.Println(t.Render())
}

func printJoints(pose [4]float64) {
	fmt.Printf("%s base=%.2f shoulder=%.2f elbow=%.2f wrist=%.2f\n",
		headerStyle.Render("joints"), pose[youpi.Base], pose[youpi.Shoulder], pose[youpi.Elbow], pose[youpi.Wrist])
	printApproach(pose)
}

// printApproach shows the direction the gripper points to.
func printApproach(pose [4]float64) {
	v := youpi.ApproachVector(pose)
	fmt.Println(dimStyle.Render(fmt.Sprintf("approach x=%.3f y=%.3f z=%.3f", v.X, v.Y, v.Z)))
}
