package email

const baseTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; padding: 0; font-family: Arial, sans-serif; background: #f4f6fb; color: #1f2937; }
        .container { max-width: 560px; margin: 0 auto; padding: 32px 16px; }
        .card { background: #ffffff; border-radius: 10px; padding: 28px; border: 1px solid #e5e7eb; }
        h2 { margin: 0 0 12px; font-size: 22px; }
        p { font-size: 15px; line-height: 1.6; margin: 0 0 14px; color: #4b5563; }
        .creds { background: #111827; color: #f9fafb; border-radius: 8px; padding: 16px; font-family: monospace; font-size: 16px; }
        .footer { text-align: center; font-size: 12px; color: #9ca3af; margin-top: 20px; }
    </style>
</head>
<body>
<div class="container">
    <div class="card">{{.Content}}</div>
    <div class="footer">{{.Brand}}</div>
</div>
</body>
</html>`

const voucherReceiptTemplate = `
<h2>Your {{.PlanName}} voucher is ready</h2>
<p>Thanks for your payment of {{.Price}}. Connect to the hotspot and sign in with:</p>
<div class="creds">
    Username: {{.Username}}<br>
    Password: {{.Password}}
</div>
<p>Valid for {{.Validity}} from first login. Payment reference: {{.Reference}}</p>
`

const (
	TemplateVoucherReceipt = "voucher_receipt"
)
