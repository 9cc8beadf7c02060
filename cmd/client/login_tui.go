package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/confsync/confsync/internal/utils"
)

// View states
type viewState int

const (
	emailView viewState = iota
	otpView
)

// Strings
const (
	txtEmailPlaceholder = "your@email.com"
	txtOtpPlaceholder   = "••••••••"
	txtEmailPrompt      = "Enter your email address"
	txtRequestingOTP    = "Requesting OTP..."
	txtVerifyingOTP     = "Verifying OTP..."
	txtOtpPrompt        = "Enter the OTP sent to %s"
	txtOtpInfo          = "Please check your inbox or junk folder."
	txtInvalidEmail     = "Invalid email"
	txtInvalidOTP       = "Invalid OTP"
	txtHelp             = "Press 'Enter' to submit. 'Esc' to go back/quit. 'Ctrl+C' to quit."
)

// Styles
var (
	focusedStyle     = green
	helpStyle        = gray
	errorTextStyle   = red
	errorHeaderStyle = red.Bold(true)
	spinnerStyle     = cyan
	placeholderStyle = gray
	titleStyle       = cyan.Bold(true)
)

type LoginTUIOpts struct {
	Email              string
	ServerURL          string
	DataDir            string
	ConfigPath         string
	Note               string // optional note to display to the user
	EmailSubmitHandler func(email string) error
	OTPSubmitHandler   func(email, otp string) error
	EmailValidator     func(email string) bool
	OTPValidator       func(otp string) bool
}

type loginModel struct {
	opts *LoginTUIOpts

	emailInput textinput.Model
	otpInput   textinput.Model
	spinner    spinner.Model

	currentView  viewState
	previousView viewState

	isLoading    bool
	errorMessage string
	message      string // For loading messages
	width        int

	submittedEmail string // To store the email for the OTP callback
}

type emailProcessedMsg struct{ err error }
type otpProcessedMsg struct{ err error }

func newLoginModel(opts *LoginTUIOpts) loginModel {
	email := textinput.New()
	email.Placeholder = txtEmailPlaceholder
	email.Focus()
	email.CharLimit = 64
	email.Width = 64
	email.PromptStyle = focusedStyle
	email.TextStyle = focusedStyle
	email.PlaceholderStyle = placeholderStyle

	otp := textinput.New()
	otp.Placeholder = txtOtpPlaceholder
	otp.CharLimit = 8
	otp.Width = 8
	otp.PromptStyle = focusedStyle
	otp.TextStyle = focusedStyle
	otp.PlaceholderStyle = placeholderStyle

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return loginModel{
		opts:         opts,
		currentView:  emailView,
		previousView: emailView,
		emailInput:   email,
		otpInput:     otp,
		spinner:      s,
		isLoading:    false,
	}
}

func (m loginModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Clear error when user starts typing in the focused field
		if m.emailInput.Focused() {
			m.errorMessage = ""
			m.emailInput, cmd = m.emailInput.Update(msg)
			cmds = append(cmds, cmd)
		} else if m.otpInput.Focused() {
			m.errorMessage = ""
			m.otpInput, cmd = m.otpInput.Update(msg)
			cmds = append(cmds, cmd)
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			return m.handleEscapeKey()

		case tea.KeyEnter:
			if m.isLoading {
				return m, nil // Don't process Enter if already loading
			}

			switch m.currentView {
			case emailView:
				return m.submitEmail()

			case otpView:
				return m.submitOtp()
			}
		}

	case spinner.TickMsg:
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case emailProcessedMsg:
		return m.handleEmailMsg(msg)

	case otpProcessedMsg:
		return m.handleOTPMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	return m, tea.Batch(cmds...)
}

// handleEscapeKey goes back from OTP to email entry, or quits.
func (m loginModel) handleEscapeKey() (tea.Model, tea.Cmd) {
	if m.currentView == otpView {
		m.currentView = emailView
		m.otpInput.Blur()
		m.emailInput.Focus()
		m.errorMessage = ""
		return m, textinput.Blink
	}

	return m, tea.Quit
}

func (m loginModel) submitEmail() (tea.Model, tea.Cmd) {
	m.previousView = emailView
	m.errorMessage = ""

	emailVal := strings.TrimSpace(m.emailInput.Value())
	if !m.opts.EmailValidator(emailVal) {
		m.errorMessage = txtInvalidEmail
		return m, nil
	}

	m.isLoading = true
	m.message = txtRequestingOTP
	m.submittedEmail = emailVal

	// Blur the input while loading
	m.emailInput.Blur()

	return m, func() tea.Msg {
		err := m.opts.EmailSubmitHandler(m.submittedEmail)
		return emailProcessedMsg{err: err}
	}
}

func (m loginModel) submitOtp() (tea.Model, tea.Cmd) {
	m.previousView = otpView
	m.errorMessage = ""

	otpVal := strings.TrimSpace(m.otpInput.Value())
	if !m.opts.OTPValidator(otpVal) {
		m.errorMessage = txtInvalidOTP
		return m, nil
	}

	m.isLoading = true
	m.message = txtVerifyingOTP

	// Blur the input while loading
	m.otpInput.Blur()

	return m, func() tea.Msg {
		err := m.opts.OTPSubmitHandler(m.submittedEmail, otpVal)
		return otpProcessedMsg{err: err}
	}
}

func (m loginModel) handleEmailMsg(msg emailProcessedMsg) (tea.Model, tea.Cmd) {
	m.isLoading = false

	if msg.err != nil {
		m.errorMessage = fmt.Sprintf("%s %s", errorHeaderStyle.Render("ERROR: "), msg.err.Error())
		m.emailInput.Focus()
		return m, textinput.Blink
	}

	// OTP is on its way, switch to the code prompt
	m.currentView = otpView
	m.message = ""
	m.errorMessage = ""

	m.otpInput.Focus()

	return m, textinput.Blink
}

func (m loginModel) handleOTPMsg(msg otpProcessedMsg) (tea.Model, tea.Cmd) {
	m.isLoading = false

	if msg.err != nil {
		m.errorMessage = fmt.Sprintf("%s %s", errorHeaderStyle.Render("ERROR:"), msg.err.Error())
		m.otpInput.Focus()
		return m, textinput.Blink
	}

	// OTP verification was successful. Quit the TUI.
	return m, tea.Quit
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(utils.ConfSyncArt))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Server  "), green.Render(m.opts.ServerURL)))
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Data    "), green.Render(m.opts.DataDir)))
	b.WriteString(fmt.Sprintf("%s%s\n", gray.Render("Config  "), green.Render(m.opts.ConfigPath)))
	if m.opts.Note != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", yellow.Render(m.opts.Note)))
	}
	b.WriteString("\n")

	switch m.currentView {
	case emailView:
		m.renderEmailView(&b)
	case otpView:
		m.renderOtpView(&b)
	}
	m.renderLoadingView(&b)
	m.renderErrorView(&b)
	m.renderHelpView(&b)
	b.WriteString("\n")
	return b.String()
}

func (m loginModel) renderEmailView(b *strings.Builder) {
	b.WriteString(txtEmailPrompt)
	b.WriteString("\n\n")
	b.WriteString(m.emailInput.View())
}

func (m loginModel) renderOtpView(b *strings.Builder) {
	b.WriteString(fmt.Sprintf(txtOtpPrompt, green.Render(m.submittedEmail)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(txtOtpInfo))
	b.WriteString("\n\n")
	b.WriteString(m.otpInput.View())
}

func (m loginModel) renderLoadingView(b *strings.Builder) {
	if m.isLoading {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), m.message))
	}
}

func (m loginModel) renderErrorView(b *strings.Builder) {
	if m.errorMessage != "" {
		b.WriteString("\n\n")
		b.WriteString(errorTextStyle.Render(m.errorMessage))
	}
}

func (m loginModel) renderHelpView(b *strings.Builder) {
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render(txtHelp))
}

// RunLoginTUI runs the interactive email+OTP login flow.
func RunLoginTUI(opts LoginTUIOpts) error {
	loginM := newLoginModel(&opts)
	model, err := tea.NewProgram(loginM, tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("login TUI: %w", err)
	}

	// Check the final model state for errors or interruptions
	if fm, ok := model.(loginModel); ok {
		if fm.errorMessage != "" {
			return fmt.Errorf("login process interrupted: %s", fm.errorMessage)
		}

		// Still in email view on exit means the user quit before submitting
		if fm.currentView == emailView {
			return fmt.Errorf("login process cancelled by user")
		}
	}

	return nil
}
